// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package democmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nthbuild/buildmem/buildmem"
)

func TestFakeCmdlineIsClassifiable(t *testing.T) {
	got := fakeCmdline(Recipe{Path: "src/a.cpp"})
	assert.Contains(t, got, "src/a.cpp")
}

func TestRunSpawnsRecipesThroughDisabledCore(t *testing.T) {
	// With admission disabled, MaySpawn always admits, so this exercises
	// the full spawn/wait/release path without depending on real host
	// memory pressure or shared-memory availability in the test sandbox.
	core, err := buildmem.New(context.Background(), buildmem.Config{Enabled: false})
	require.NoError(t, err)

	r := NewRunner(core, 2)
	recipes := []Recipe{
		{Path: "src/a.cpp", Duration: 10 * time.Millisecond},
		{Path: "src/b.cpp", Duration: 10 * time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = r.Run(ctx, recipes)
	assert.NoError(t, err)
}
