// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package monitor implements the Monitor Loop: the single
// top-level-process thread that ties the walker, the host probe, the
// shared region, the profile store and the status renderer together on
// a 100 ms tick.
//
// Grounded on GNU Make's memory_monitor_thread_func: one thread
// looping at a fixed period, rate-limiting its own status redraw to a
// slower cadence and its cache flush to a slower one still, with a
// duplicated stderr descriptor it owns and closes on exit.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/nthbuild/buildmem/hostmem"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/memshare"
	"github.com/nthbuild/buildmem/o11y/corelog"
	"github.com/nthbuild/buildmem/statusui"
	"github.com/nthbuild/buildmem/walker"
)

// TickInterval is the walk/accounting cadence, roughly every 100 ms.
const TickInterval = 100 * time.Millisecond

// RenderInterval is the status line redraw cadence, roughly every
// 300 ms — slower than the tick so the walk/accounting side never
// waits on terminal I/O.
const RenderInterval = 300 * time.Millisecond

// Loop drives one build's monitor thread. The zero value is not
// usable; use New.
type Loop struct {
	walker   *walker.Walker
	host     hostmem.Prober
	profiles *memprofile.Store
	region   *memshare.Region
	renderer *statusui.Renderer
	jobs     int

	cachePath      string
	renderDisabled bool
}

// New assembles a Loop from its collaborators. renderer may be a
// disabled statusui.Renderer (e.g. non-interactive output); the Loop
// treats that the same as a renderer that failed mid-run.
func New(w *walker.Walker, host hostmem.Prober, profiles *memprofile.Store, region *memshare.Region, renderer *statusui.Renderer, cacheFilePath string) *Loop {
	return &Loop{
		walker:    w,
		host:      host,
		profiles:  profiles,
		region:    region,
		renderer:  renderer,
		cachePath: cacheFilePath,
	}
}

// Run loops until ctx is cancelled, ticking at TickInterval. On return
// it closes the renderer (restoring terminal state) and performs one
// final unconditional profile flush.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	var lastRender time.Time
	for {
		select {
		case <-ctx.Done():
			l.shutdown(ctx)
			return
		case <-ticker.C:
			l.tick(ctx, &lastRender)
		}
	}
}

func (l *Loop) tick(ctx context.Context, lastRender *time.Time) {
	sample := l.host.Sample()
	res := l.walker.Tick(ctx)
	l.jobs = res.JobsSeen

	if !l.renderDisabled && time.Since(*lastRender) >= RenderInterval {
		l.render(ctx, sample, res)
		*lastRender = time.Now()
	}

	if l.profiles.Dirty() {
		l.profiles.FlushIfDirty(l.cachePath)
	}
}

func (l *Loop) render(ctx context.Context, sample hostmem.Sample, res walker.Result) {
	if l.renderer == nil {
		return
	}

	var reserved, unusedPeaks uint64
	if l.region != nil {
		stats := l.region.Snapshot()
		reserved, unusedPeaks = stats.ReservedMiB, stats.UnusedPeaksMiB
	}
	z := statusui.Zones{
		BuildTrackedMiB: res.MakeMemoryMiB,
		OtherUsedMiB:    otherUsed(sample, res.MakeMemoryMiB),
		ImminentMiB:     reserved + unusedPeaks,
		FreeMiB:         sample.FreeMiB,
	}

	err := l.renderer.Render(z, sample.UsedPercent, l.jobs)
	if errors.Is(err, statusui.ErrRendererDead) {
		// Broken pipe or pager exit: the render surface is gone, but the
		// walk/accounting side of the loop keeps running.
		l.renderDisabled = true
		corelog.Warningf(ctx, "monitor: status renderer disabled: %v", err)
	}
}

// shutdown clears the status line, restores the terminal state, and
// flushes the profile cache unconditionally so the last tick's peaks
// aren't lost to the periodic flush's rate limit. The renderer's
// private file descriptor is closed by the goroutine that runs the
// loop, once Run returns.
func (l *Loop) shutdown(ctx context.Context) {
	if l.renderer != nil {
		l.renderer.Clear()
		if err := l.renderer.Close(); err != nil {
			corelog.Warningf(ctx, "monitor: failed to restore terminal state: %v", err)
		}
	}
	l.profiles.Flush(l.cachePath)
	corelog.Infof(ctx, "monitor: stopped after %d jobs tracked in final tick", l.jobs)
}

// otherUsed derives the "other used memory" bar zone: total used minus
// what the walker attributes to tracked build descendants. sample only
// carries a used percentage, not an absolute total, so this is
// approximated from FreeMiB and UsedPercent rather than read directly.
func otherUsed(sample hostmem.Sample, buildTrackedMiB uint64) uint64 {
	if sample.Unknown || sample.UsedPercent == 0 {
		return 0
	}
	// used = free * percent / (100 - percent), when percent < 100.
	if sample.UsedPercent >= 100 {
		return 0
	}
	usedMiB := sample.FreeMiB * uint64(sample.UsedPercent) / uint64(100-sample.UsedPercent)
	if usedMiB <= buildTrackedMiB {
		return 0
	}
	return usedMiB - buildTrackedMiB
}
