// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build unix

package walker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/memshare"
	"github.com/nthbuild/buildmem/procprobe"
)

func openTestRegion(t *testing.T) *memshare.Region {
	t.Helper()
	name := fmt.Sprintf("buildmem_walker_test_%d", t.Name()[0]+uint8(len(t.Name())))
	r, err := memshare.Open(context.Background(), name, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		memshare.Unlink(name)
	})
	return r
}

// TestTickReleasesReservationUnderCallerNotChildPid guards against
// keying a release to the discovered child pid: the reservation is
// made (by whatever called admission.MaySpawn) under the caller's
// pid, so the walker must release that same pid on a profile hit, not
// the child's, or the reservation never clears.
func TestTickReleasesReservationUnderCallerNotChildPid(t *testing.T) {
	const callerPID = 1
	const childPID = 2

	region := openTestRegion(t)
	ctx := context.Background()
	require.True(t, region.Reserve(ctx, callerPID, 500))

	probe := newFakeProber()
	probe.children[callerPID] = []procprobe.PID{childPID}
	probe.rss[childPID] = 200
	probe.cmdlines[childPID] = "cc -o out.o src/a.cpp"
	probe.parents[childPID] = callerPID

	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 900, false)

	w := New(callerPID, probe, classify.New(), profiles, region)
	w.Tick(ctx)

	require.Equal(t, uint64(0), region.Snapshot().ReservedMiB)

	// A release keyed to the child pid instead would have left the
	// caller's reservation untouched.
	region.Reserve(ctx, callerPID, 500)
	region.Release(ctx, childPID)
	require.Equal(t, uint64(500), region.Snapshot().ReservedMiB)
}
