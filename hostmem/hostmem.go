// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hostmem implements the Host Memory Probe: a pure function
// reading system free/total memory. On platforms without a cheap
// reliable source it reports Unknown, which the admission gate and
// status renderer both treat as "run without memory awareness."
package hostmem

// Sample is one reading of host memory. Unknown is true when the
// platform could not produce a reliable figure; FreeMiB and UsedPercent
// are zero-valued in that case and must not be used for decisions.
type Sample struct {
	FreeMiB     uint64
	UsedPercent uint32
	Unknown     bool
}

// Prober reads current host memory. Implementations must be safe to
// call every 100ms without measurable load and must never block.
type Prober interface {
	Sample() Sample
}

// Default returns the platform's Prober.
func Default() Prober {
	return newProber()
}
