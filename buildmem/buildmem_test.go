// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nthbuild/buildmem/admission"
)

func TestDisabledConfigAlwaysAdmits(t *testing.T) {
	c, err := New(context.Background(), Config{Enabled: false})
	assert.NoError(t, err)
	res := c.MaySpawn(context.Background(), "cc -o out.o src/a.cpp", 1)
	assert.Equal(t, admission.Go, res.Decision)
}

func TestSubBuildAttachDoesNotPanicWithoutRegion(t *testing.T) {
	c := Attach(1, Config{Enabled: true, RegionName: "buildmem_test_no_such_region_xyz"})
	res := c.MaySpawn(context.Background(), "cc -o out.o src/a.cpp", 1)
	// Whether or not the lazy attach succeeds on this host, the sub-build
	// admits: its profile store is empty, so nothing is required.
	assert.Equal(t, admission.Go, res.Decision)
}

func TestTeardownAtSubBuildLevelIsNoop(t *testing.T) {
	c := Attach(2, Config{Enabled: true})
	// Must not panic despite no monitor/profiles/region being set up.
	c.Teardown(context.Background())
}

func TestFlushProfilesAtSubBuildLevelIsNoop(t *testing.T) {
	c := Attach(1, Config{Enabled: true})
	c.FlushProfiles(context.Background())
}

func TestReleaseWithoutRegionIsNoop(t *testing.T) {
	c := Attach(1, Config{Enabled: true})
	c.Release(context.Background(), 42)
}
