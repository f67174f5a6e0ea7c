// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package hostmem

// unknownProber covers platforms with no reliable memory reading:
// admission gating and the renderer both degrade gracefully when
// memory is unknown, while profiles are still learned and persisted.
type unknownProber struct{}

func newProber() Prober {
	return unknownProber{}
}

func (unknownProber) Sample() Sample {
	return Sample{Unknown: true}
}
