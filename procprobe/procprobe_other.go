// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package procprobe

// unsupportedProber covers hosts without a scoped process-enumeration
// primitive: it reports everything gone, so the walker finds no
// descendants to track rather than failing.
type unsupportedProber struct{}

func newProber() Prober {
	return unsupportedProber{}
}

func (unsupportedProber) Refresh()                  {}
func (unsupportedProber) RSSMiB(PID) (uint64, bool)  { return 0, false }
func (unsupportedProber) ParentOf(PID) (PID, bool)   { return 0, false }
func (unsupportedProber) Cmdline(PID) (string, bool) { return "", false }
func (unsupportedProber) Children(PID) []PID         { return nil }
