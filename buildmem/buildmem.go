// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package buildmem implements Lifecycle & Signals: the top-level entry
// point a recipe runner imports to get memory-aware admission, wiring
// together every other package in this module.
//
// Grounded on siso's top-level main.go, which owns process-lifetime
// concerns (signal handling, cleanup registration) around a set of
// otherwise-independent subsystems, and on GNU Make's makelevel-gated
// guards (save_memory_profiles and cleanup_shared_memory both bail out
// with a logged error above makelevel 0).
package buildmem

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nthbuild/buildmem/admission"
	"github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/hostmem"
	"github.com/nthbuild/buildmem/memprofile"
	"github.com/nthbuild/buildmem/memshare"
	"github.com/nthbuild/buildmem/monitor"
	"github.com/nthbuild/buildmem/o11y/corelog"
	"github.com/nthbuild/buildmem/procprobe"
	"github.com/nthbuild/buildmem/statusui"
	"github.com/nthbuild/buildmem/walker"
)

// Config selects the on/off and display toggles from the
// Configuration surface. Env var parsing lives in cmd/buildmem, which
// owns the process's flag/environment surface; Config is the resolved
// result.
type Config struct {
	// Enabled is the on/off toggle, defaulting to on.
	Enabled bool
	// DisplayDisabled suppresses the status renderer without disabling
	// admission accounting.
	DisplayDisabled bool
	// Verbosity records the caller's corelog level. Core does not read
	// it: its diagnostics follow the level carried by the ctx given to
	// New.
	Verbosity corelog.Level
	// RegionName overrides memshare.DefaultName, mainly for tests.
	RegionName string
	// CacheDir overrides the profile cache's directory; defaults to the
	// current working directory.
	CacheDir string
}

// Core is the memory-aware admission core a recipe runner drives. The
// zero value is not usable; use New or Attach.
type Core struct {
	// Level is 0 for the top-level process, >0 for every sub-build.
	// Every top-level-only operation (teardown, profile flush) is
	// guarded with a level check.
	Level int

	cfg      Config
	profiles *memprofile.Store
	region   *memshare.Region
	gate     *admission.Gate
	host     hostmem.Prober

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	cachePath     string

	teardownOnce sync.Once
}

// New starts a top-level Core: loads profiles, maps (creating if
// needed) and zeroes the shared region, and spawns the monitor thread.
// It also registers a signal handler so SIGINT/SIGTERM trigger the
// same teardown path as a clean exit.
func New(ctx context.Context, cfg Config) (*Core, error) {
	if !cfg.Enabled {
		return &Core{Level: 0, cfg: cfg}, nil
	}

	dir := cfg.CacheDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("buildmem: getwd: %w", err)
		}
		dir = wd
	}
	cachePath := memprofile.DefaultCachePath(dir)
	profiles := memprofile.Load(cachePath)

	region, err := memshare.Open(ctx, cfg.RegionName, true)
	if err != nil {
		corelog.Warningf(ctx, "buildmem: shared region unavailable, running host-only: %v", err)
		region = nil
	}

	host := hostmem.Default()
	classifier := classify.New()
	gate := admission.New(profiles, region, host, classifier)

	c := &Core{
		Level:     0,
		cfg:       cfg,
		profiles:  profiles,
		region:    region,
		gate:      gate,
		host:      host,
		cachePath: cachePath,
	}

	c.startMonitor(ctx, classifier)
	c.registerSignalHandler(ctx)
	return c, nil
}

// Attach starts a sub-build's Core: at sub-build startup there is
// nothing to do beyond recording the level, since the shared region
// attaches lazily on first admission check. level must be > 0.
func Attach(level int, cfg Config) *Core {
	return &Core{Level: level, cfg: cfg}
}

func (c *Core) startMonitor(ctx context.Context, classifier *classify.Classifier) {
	monCtx, cancel := context.WithCancel(ctx)
	c.monitorCancel = cancel
	c.monitorDone = make(chan struct{})

	w := walker.New(procprobe.PID(os.Getpid()), procprobe.Default(), classifier, c.profiles, c.region)

	var renderer *statusui.Renderer
	var statusFile *os.File
	if !c.cfg.DisplayDisabled {
		if fd, err := statusui.StderrFD(); err == nil {
			// Write through the duplicated fd itself, not os.Stderr: the
			// point of owning a separate descriptor is that the renderer's
			// writes and its terminal-state queries go through the same
			// isolated fd, unaffected by anything else that closes or
			// reopens os.Stderr during the build.
			statusFile = os.NewFile(uintptr(fd), "buildmem-status")
			renderer = statusui.New(fd, statusFile)
		} else {
			corelog.Warningf(ctx, "buildmem: status renderer unavailable: %v", err)
		}
	}

	loop := monitor.New(w, c.host, c.profiles, c.region, renderer, c.cachePath)
	go func() {
		defer close(c.monitorDone)
		if statusFile != nil {
			// Closed only after Run has restored the terminal through it.
			defer statusFile.Close()
		}
		loop.Run(monCtx)
	}()
}

func (c *Core) registerSignalHandler(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			c.Teardown(ctx)
		}
	}()
}

// MaySpawn is the admission-gate entry point a recipe runner calls
// immediately before forking. It attaches the shared region lazily for
// sub-builds.
func (c *Core) MaySpawn(ctx context.Context, cmdlineHint string, callerPID int32) admission.Result {
	if !c.cfg.Enabled {
		return admission.Result{Decision: admission.Go}
	}
	if c.gate == nil {
		c.attachSubBuild(ctx)
	}
	if c.gate == nil {
		// Attachment failed even lazily; admit unconditionally rather than
		// ever block a build on memory-awareness infrastructure.
		return admission.Result{Decision: admission.Go}
	}
	return c.gate.MaySpawn(ctx, cmdlineHint, callerPID)
}

// Release hands back a reservation made by MaySpawn, for callers whose
// recipe runner explicitly releases on the child's exit rather than
// waiting for the walker to discover it. callerPID must be the same
// pid passed to the MaySpawn call that produced the reservation, not
// the spawned child's pid: reservations are keyed to the caller, since
// that is the only pid known at reservation time, before the child has
// been forked.
func (c *Core) Release(ctx context.Context, callerPID int32) {
	if c.region == nil {
		return
	}
	c.region.Release(ctx, callerPID)
}

func (c *Core) attachSubBuild(ctx context.Context) {
	region, err := memshare.Open(ctx, c.cfg.RegionName, false)
	if err != nil {
		corelog.Warningf(ctx, "buildmem: sub-build could not attach shared region: %v", err)
		return
	}
	c.region = region
	c.host = hostmem.Default()
	c.gate = admission.New(memprofile.New(), region, c.host, classify.New())
}

// FlushProfiles writes the profile cache if dirty, subject to the
// usual rate limit. Top-level only; sub-builds log and return.
func (c *Core) FlushProfiles(ctx context.Context) {
	if c.Level > 0 {
		corelog.Warningf(ctx, "buildmem: FlushProfiles called at level %d, ignoring", c.Level)
		return
	}
	if c.profiles == nil {
		return
	}
	c.profiles.FlushIfDirty(c.cachePath)
}

// Teardown stops the monitor, flushes profiles unconditionally, and
// unmaps and unlinks the shared region. Sub-builds log and return.
// Safe to call more than once.
func (c *Core) Teardown(ctx context.Context) {
	if c.Level > 0 {
		corelog.Warningf(ctx, "buildmem: Teardown called at level %d, ignoring", c.Level)
		return
	}
	c.teardownOnce.Do(func() {
		if c.monitorCancel != nil {
			c.monitorCancel()
			<-c.monitorDone
		}
		if c.profiles != nil {
			// Unconditional, unlike the periodic tick's FlushIfDirty: a
			// short build can finish inside the rate-limit window and its
			// final decayed peak must not be lost.
			c.profiles.Flush(c.cachePath)
		}
		if c.region != nil {
			if err := c.region.Close(); err != nil {
				corelog.Warningf(ctx, "buildmem: closing shared region: %v", err)
			}
			if err := memshare.Unlink(c.cfg.RegionName); err != nil {
				corelog.Warningf(ctx, "buildmem: unlinking shared region: %v", err)
			}
		}
		corelog.Infof(ctx, "buildmem: teardown complete")
	})
}
