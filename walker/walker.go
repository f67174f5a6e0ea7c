// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package walker implements the Descendant Walker: the per-tick pass
// that descends the process tree from the top-level process,
// classifies newly seen descendants, and folds their RSS into the
// Profile Store and Shared Accounting Region.
//
// Grounded on GNU Make's find_child_descendants and the descendant
// bookkeeping inside memory_monitor_thread_func: a fixed-size (here,
// map-backed) table of tracked pids, each carrying the profile index
// it classified to and the historical peak recorded at classification
// time, walked and reconciled once per tick.
package walker

import (
	"context"

	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/memshare"
	"github.com/nthbuild/buildmem/o11y/corelog"
	"github.com/nthbuild/buildmem/procprobe"
)

// state is what the walker remembers about one tracked descendant
// between ticks.
type state struct {
	path       string
	profileIdx int
	hasProfile bool
	oldPeakMiB uint32
	currentMiB uint32
	seenTick   uint64
}

// Walker holds the tracked-descendant table across ticks. The zero
// value is not usable; use New.
type Walker struct {
	topPID     procprobe.PID
	probe      procprobe.Prober
	classifier *classify.Classifier
	profiles   *memprofile.Store
	region     *memshare.Region

	tracked map[procprobe.PID]*state
	tick    uint64
}

// New returns a Walker rooted at topPID. region may be nil, in which
// case reservation release and unused-peak publication are skipped —
// the degraded mode used when the Shared Accounting Region could not
// be opened.
func New(topPID procprobe.PID, probe procprobe.Prober, classifier *classify.Classifier, profiles *memprofile.Store, region *memshare.Region) *Walker {
	return &Walker{
		topPID:     topPID,
		probe:      probe,
		classifier: classifier,
		profiles:   profiles,
		region:     region,
		tracked:    make(map[procprobe.PID]*state),
	}
}

// Result is one tick's accumulated totals: jobs seen, total tracked
// build memory, and the MiB by which live profiled descendants'
// historical peaks exceed their current RSS.
type Result struct {
	JobsSeen        int
	MakeMemoryMiB   uint64
	UnusedPeaksMiB  uint64
}

// Tick runs one walk over the process tree and reconciles the tracked
// table against it.
func (w *Walker) Tick(ctx context.Context) Result {
	w.tick++
	w.probe.Refresh()

	live := w.descendantsOf(w.topPID)
	liveSet := make(map[procprobe.PID]bool, len(live))

	var res Result
	for _, pid := range live {
		liveSet[pid] = true
		rssMiB, ok := w.probe.RSSMiB(pid)
		if !ok {
			continue
		}

		st, tracked := w.tracked[pid]
		if !tracked {
			st = w.classifyNew(ctx, pid, rssMiB)
			w.tracked[pid] = st
		} else {
			st.currentMiB = uint32(rssMiB)
			if st.hasProfile {
				_, peak := w.profiles.InsertOrUpdate(st.path, uint32(rssMiB), false)
				st.oldPeakMiB = maxU32(st.oldPeakMiB, peak)
			}
		}
		st.seenTick = w.tick

		res.JobsSeen++
		res.MakeMemoryMiB += uint64(st.currentMiB)
		if st.hasProfile && st.currentMiB < st.oldPeakMiB {
			res.UnusedPeaksMiB += uint64(st.oldPeakMiB - st.currentMiB)
		}
	}

	w.reapExited(ctx, liveSet)

	if w.region != nil {
		w.region.SetUnusedPeaksMiB(res.UnusedPeaksMiB)
	}
	return res
}

// classifyNew handles a pid seen for the first time: classification,
// profile lookup-or-insert, and the reservation handoff — the walker
// releases the pre-spawn reservation the admission gate made for this
// child once the child is accounted for through its own live RSS.
func (w *Walker) classifyNew(ctx context.Context, pid procprobe.PID, rssMiB uint64) *state {
	st := &state{currentMiB: uint32(rssMiB)}

	cmdline, ok := w.probe.Cmdline(pid)
	if !ok {
		return st
	}
	path, ok := w.classifier.FromCmdline(cmdline)
	if !ok {
		return st
	}
	classify.MaybeDump(ctx, "walker", cmdline, path, ok)

	st.path = path
	st.hasProfile = true

	if peak, hit := w.profiles.PeakMiB(path); hit {
		idx, _, _, _ := w.profiles.Lookup(path)
		st.profileIdx = idx
		st.oldPeakMiB = peak
		if w.region != nil {
			// The reservation admission made for this spawn is keyed to
			// the caller's pid, not the child's — release it there, or
			// this pid never held one to begin with, in which case
			// Release is a no-op.
			if callerPID, ok := w.probe.ParentOf(pid); ok {
				w.region.Release(ctx, int32(callerPID))
			}
		}
		corelog.Verbosef(ctx, "walker: pid=%d classified %q, profile hit peak=%dMiB", pid, path, peak)
	} else {
		idx, stored := w.profiles.InsertOrUpdate(path, uint32(rssMiB), false)
		st.profileIdx = idx
		st.oldPeakMiB = stored
		corelog.Verbosef(ctx, "walker: pid=%d classified %q, new profile idx=%d initial=%dMiB", pid, path, idx, stored)
	}
	return st
}

// reapExited drops tracked entries whose pid is no longer live,
// submitting a final profile update for anything that had one.
func (w *Walker) reapExited(ctx context.Context, live map[procprobe.PID]bool) {
	for pid, st := range w.tracked {
		if live[pid] {
			continue
		}
		if st.hasProfile {
			_, final := w.profiles.InsertOrUpdate(st.path, st.currentMiB, true)
			corelog.Verbosef(ctx, "walker: pid=%d exited, final peak for %q = %dMiB", pid, st.path, final)
		}
		delete(w.tracked, pid)
	}
}

// descendantsOf walks the full subtree under root via repeated
// Children lookups, mirroring find_child_descendants' recursive
// /proc walk. A descendant whose parent has re-parented away from the
// tree is simply never reached, so it drops out of tracking silently
// on the next tick.
func (w *Walker) descendantsOf(root procprobe.PID) []procprobe.PID {
	var out []procprobe.PID
	queue := []procprobe.PID{root}
	seen := map[procprobe.PID]bool{root: true}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range w.probe.Children(p) {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
