// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package walker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/procprobe"
)

// fakeProber is a scriptable procprobe.Prober for exercising the
// walker without a real process tree.
type fakeProber struct {
	children map[procprobe.PID][]procprobe.PID
	rss      map[procprobe.PID]uint64
	cmdlines map[procprobe.PID]string
	parents  map[procprobe.PID]procprobe.PID
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		children: make(map[procprobe.PID][]procprobe.PID),
		rss:      make(map[procprobe.PID]uint64),
		cmdlines: make(map[procprobe.PID]string),
		parents:  make(map[procprobe.PID]procprobe.PID),
	}
}

func (f *fakeProber) Refresh() {}
func (f *fakeProber) RSSMiB(pid procprobe.PID) (uint64, bool) {
	v, ok := f.rss[pid]
	return v, ok
}
func (f *fakeProber) ParentOf(pid procprobe.PID) (procprobe.PID, bool) {
	v, ok := f.parents[pid]
	return v, ok
}
func (f *fakeProber) Cmdline(pid procprobe.PID) (string, bool) {
	v, ok := f.cmdlines[pid]
	return v, ok
}
func (f *fakeProber) Children(pid procprobe.PID) []procprobe.PID {
	return f.children[pid]
}

func TestTickTracksNewDescendantWithoutProfile(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2}
	probe.rss[2] = 100

	w := New(1, probe, classify.New(), memprofile.New(), nil)
	res := w.Tick(context.Background())

	assert.Equal(t, 1, res.JobsSeen)
	assert.Equal(t, uint64(100), res.MakeMemoryMiB)
	assert.Equal(t, uint64(0), res.UnusedPeaksMiB)
}

func TestTickClassifiesAndCreatesProfileOnMiss(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2}
	probe.rss[2] = 300
	probe.cmdlines[2] = "cc -o out.o src/a.cpp"

	profiles := memprofile.New()
	w := New(1, probe, classify.New(), profiles, nil)
	w.Tick(context.Background())

	peak, ok := profiles.PeakMiB("src/a.cpp")
	require.True(t, ok)
	assert.Equal(t, uint32(300), peak)
}

func TestTickAccumulatesUnusedPeakOnProfileHit(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2}
	probe.rss[2] = 200
	probe.cmdlines[2] = "cc -o out.o src/a.cpp"

	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 900, false)

	w := New(1, probe, classify.New(), profiles, nil)
	res := w.Tick(context.Background())

	assert.Equal(t, uint64(900-200), res.UnusedPeaksMiB)
}

func TestTickReapsExitedDescendantWithFinalPeak(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2}
	probe.rss[2] = 600
	probe.cmdlines[2] = "cc -o out.o src/a.cpp"

	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 900, false)
	w := New(1, probe, classify.New(), profiles, nil)
	w.Tick(context.Background())

	// The descendant exits: it's absent from Children next tick, so the
	// last RSS observed while it was live (600) is the final figure.
	probe.children[1] = nil
	w.Tick(context.Background())

	peak, ok := profiles.PeakMiB("src/a.cpp")
	require.True(t, ok)
	// gap 300, decay 1/3 -> peak drops from 900 to 800.
	assert.Equal(t, uint32(800), peak)
	assert.Empty(t, w.tracked)
}

func TestTickWithoutProfileStillCountsTowardJobsAndRSS(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2, 3}
	probe.rss[2] = 50
	probe.rss[3] = 75
	// Neither has a cmdline, so classification never matches.

	w := New(1, probe, classify.New(), memprofile.New(), nil)
	res := w.Tick(context.Background())

	assert.Equal(t, 2, res.JobsSeen)
	assert.Equal(t, uint64(125), res.MakeMemoryMiB)
}

func TestDescendantsOfWalksMultipleLevels(t *testing.T) {
	probe := newFakeProber()
	probe.children[1] = []procprobe.PID{2}
	probe.children[2] = []procprobe.PID{3}
	probe.rss[2] = 10
	probe.rss[3] = 20

	w := New(1, probe, classify.New(), memprofile.New(), nil)
	res := w.Tick(context.Background())

	assert.Equal(t, 2, res.JobsSeen)
	assert.Equal(t, uint64(30), res.MakeMemoryMiB)
}
