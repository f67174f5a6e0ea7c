// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/hostmem"
	"github.com/nthbuild/buildmem/memprofile"
)

type fakeHost struct {
	sample hostmem.Sample
}

func (f fakeHost) Sample() hostmem.Sample { return f.sample }

func TestMaySpawnAdmitsUnknownPathRegardlessOfMemory(t *testing.T) {
	g := New(memprofile.New(), nil, fakeHost{hostmem.Sample{FreeMiB: 0}}, classify.New())
	res := g.MaySpawn(context.Background(), "cc -o out.o", 100)
	assert.Equal(t, Go, res.Decision)
	assert.Equal(t, uint32(0), res.RequiredMiB)
}

func TestMaySpawnAdmitsWhenRequiredFitsFree(t *testing.T) {
	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 500, false)

	g := New(profiles, nil, fakeHost{hostmem.Sample{FreeMiB: 2000}}, classify.New())
	res := g.MaySpawn(context.Background(), "cc -o out.o src/a.cpp", 100)
	assert.Equal(t, Go, res.Decision)
	assert.Equal(t, uint32(500), res.RequiredMiB)
}

func TestMaySpawnAdmitsWhenHostMemoryIsUnknown(t *testing.T) {
	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 5000, false)

	g := New(profiles, nil, fakeHost{hostmem.Sample{Unknown: true}}, classify.New())
	res := g.MaySpawn(context.Background(), "cc -o out.o src/a.cpp", 100)
	assert.Equal(t, Go, res.Decision)
	assert.Equal(t, uint32(5000), res.RequiredMiB)
}

func TestMaySpawnWaitsWhenRequiredExceedsFree(t *testing.T) {
	profiles := memprofile.New()
	profiles.InsertOrUpdate("src/a.cpp", 5000, false)

	g := New(profiles, nil, fakeHost{hostmem.Sample{FreeMiB: 100}}, classify.New())
	res := g.MaySpawn(context.Background(), "cc -o out.o src/a.cpp", 100)
	assert.Equal(t, Wait, res.Decision)
}

func TestSaturatingSubNeverGoesNegative(t *testing.T) {
	assert.Equal(t, uint64(0), saturatingSub(10, 20))
	assert.Equal(t, uint64(5), saturatingSub(15, 10))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "go", Go.String())
	assert.Equal(t, "wait", Wait.String())
}
