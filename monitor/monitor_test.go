// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nthbuild/buildmem/hostmem"
)

func TestOtherUsedApproximatesNonBuildMemory(t *testing.T) {
	sample := hostmem.Sample{FreeMiB: 1000, UsedPercent: 50}
	// used = 1000 * 50/50 = 1000; build-tracked 200 -> other used 800.
	assert.Equal(t, uint64(800), otherUsed(sample, 200))
}

func TestOtherUsedZeroWhenUnknown(t *testing.T) {
	assert.Equal(t, uint64(0), otherUsed(hostmem.Sample{Unknown: true}, 100))
}

func TestOtherUsedZeroWhenBuildTrackedExceedsEstimate(t *testing.T) {
	sample := hostmem.Sample{FreeMiB: 100, UsedPercent: 10}
	assert.Equal(t, uint64(0), otherUsed(sample, 999999))
}

func TestOtherUsedZeroAtFullUtilization(t *testing.T) {
	assert.Equal(t, uint64(0), otherUsed(hostmem.Sample{FreeMiB: 10, UsedPercent: 100}, 0))
}
