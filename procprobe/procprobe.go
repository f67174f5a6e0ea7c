// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package procprobe implements the Process Probe: a capability set for
// reading a process's RSS, parent pid, and cmdline, and for
// enumerating a pid's direct children. The only natural variation
// across hosts is this probe — exposed here as a capability interface
// with one concrete implementation per host, following siso's pattern
// of a shared interface plus a GOOS-suffixed file per platform (see
// runtimex/os_unix.go and runtimex/os_windows.go).
package procprobe

// PID is a process id. Zero is never a valid pid.
type PID int32

// Prober reads process state without blocking. If a process disappears
// mid-read, methods report "gone" (ok == false) rather than an error:
// the probe must never fail on a vanished process.
type Prober interface {
	// Refresh takes one snapshot of the process table. Children, RSSMiB
	// and ParentOf answer from this snapshot until the next Refresh, so
	// a walk tick pays for exactly one scan of the whole process table
	// (O(all_processes)) regardless of how many descendants it visits,
	// rather than one scan per visited descendant.
	Refresh()
	// RSSMiB returns the resident set size of pid in MiB, or ok=false if
	// pid is gone.
	RSSMiB(pid PID) (mib uint64, ok bool)
	// ParentOf returns the parent pid of pid, or ok=false if pid is gone.
	ParentOf(pid PID) (parent PID, ok bool)
	// Cmdline returns the raw command line of pid, NUL-joined argv
	// converted to space-joined, or ok=false if pid is gone or
	// unreadable.
	Cmdline(pid PID) (cmdline string, ok bool)
	// Children returns the direct children of parent, answered from the
	// snapshot the last Refresh took; it does no scanning of its own.
	Children(parent PID) []PID
}

// Default returns the platform's Prober.
func Default() Prober {
	return newProber()
}
