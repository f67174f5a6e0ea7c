// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package admission implements the Admission Gate: the go/wait
// decision made immediately before the recipe runner would fork a new
// job.
//
// Grounded on GNU Make's reserve_memory_mb and get_imminent_memory_mb,
// generalized from a single global shared-memory struct into a Gate
// that composes memprofile.Store, memshare.Region and hostmem.Prober
// as explicit collaborators rather than package-level globals.
package admission

import (
	"context"

	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/hostmem"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/memshare"
	"github.com/nthbuild/buildmem/o11y/corelog"
)

// Decision is the gate's verdict for one spawn attempt.
type Decision int

const (
	// Go means the caller may fork immediately; a reservation for
	// Required MiB has already been written under the caller's pid.
	Go Decision = iota
	// Wait means the caller should retry later without forking, at a
	// recommended 100 ms retry cadence.
	Wait
)

func (d Decision) String() string {
	if d == Go {
		return "go"
	}
	return "wait"
}

// Result carries the verdict plus the figures that produced it, so
// callers (and the status renderer) can explain a Wait without
// recomputing anything.
type Result struct {
	Decision      Decision
	RequiredMiB   uint32
	FreeMiB       uint64
	ImminentMiB   uint64
	EffectiveFree uint64
}

// Gate is the Admission Gate. The zero value is not usable; use New.
type Gate struct {
	profiles   *memprofile.Store
	region     *memshare.Region // may be nil: degrades to host-only reasoning
	host       hostmem.Prober
	classifier *classify.Classifier
}

// New returns a Gate. region may be nil when the Shared Accounting
// Region could not be opened, in which case imminent is always 0 and
// reservations are skipped — spawns are admitted purely on host free
// memory, the same degraded mode accepted for a host with no shared
// region.
func New(profiles *memprofile.Store, region *memshare.Region, host hostmem.Prober, classifier *classify.Classifier) *Gate {
	return &Gate{profiles: profiles, region: region, host: host, classifier: classifier}
}

// MaySpawn implements may_spawn(source_path_hint). hint is the
// recipe's command line (or a bare path); callerPID is the would-be
// parent's pid, under which a Go decision's reservation is recorded.
// The gate never blocks; on Wait the caller is responsible for
// retrying. A host probe that cannot produce a reliable reading always
// admits: there is nothing sound to compare Required against, so the
// gate falls back to running with no memory awareness rather than
// waiting forever.
func (g *Gate) MaySpawn(ctx context.Context, hint string, callerPID int32) Result {
	required := g.requiredMiB(hint)

	sample := g.host.Sample()
	if sample.Unknown {
		res := Result{RequiredMiB: required, Decision: Go}
		if g.region != nil {
			g.region.Reserve(ctx, callerPID, required)
		}
		corelog.Verbosef(ctx, "admission: go (host memory unknown) required=%dMiB", required)
		return res
	}

	var imminent uint64
	if g.region != nil {
		stats := g.region.Snapshot()
		imminent = stats.ReservedMiB + stats.UnusedPeaksMiB
	}
	effectiveFree := saturatingSub(sample.FreeMiB, imminent)

	res := Result{
		RequiredMiB:   required,
		FreeMiB:       sample.FreeMiB,
		ImminentMiB:   imminent,
		EffectiveFree: effectiveFree,
	}

	if required == 0 || uint64(required) <= effectiveFree {
		res.Decision = Go
		if g.region != nil {
			g.region.Reserve(ctx, callerPID, required)
		}
		corelog.Verbosef(ctx, "admission: go required=%dMiB free=%dMiB imminent=%dMiB", required, sample.FreeMiB, imminent)
		return res
	}

	res.Decision = Wait
	corelog.Verbosef(ctx, "admission: wait required=%dMiB effective_free=%dMiB", required, effectiveFree)
	return res
}

// requiredMiB implements "peak_from_profile(source_path_hint)":
// classify hint into a path, then look up its historical peak. A
// classification miss or profile miss is treated as "cannot reason,
// admit", i.e. zero.
func (g *Gate) requiredMiB(hint string) uint32 {
	path, ok := g.classifier.FromCmdline(hint)
	if !ok {
		return 0
	}
	peak, ok := g.profiles.PeakMiB(path)
	if !ok {
		return 0
	}
	return peak
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
