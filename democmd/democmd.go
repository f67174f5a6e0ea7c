// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package democmd is a toy recipe runner. It exists only to drive
// admission, walker and monitor end to end against real OS processes
// in an integration test — it is explicitly not a build tool, has no
// Makefile/ninja parsing, and never becomes part of the memory-aware
// admission core itself.
//
// Grounded on siso's job-concurrency idiom (sync/semaphore.Semaphore
// bounding how many recipes run at once, orthogonal to the admission
// gate's own decision: the gate never consults the jobserver, since
// that is a separate concurrency budget), and on hashicorp/go-multierror
// (from the containers-nri-plugins example) for aggregating failures
// from concurrently run recipes.
package democmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nthbuild/buildmem/admission"
	"github.com/nthbuild/buildmem/buildmem"
	"github.com/nthbuild/buildmem/o11y/corelog"
	"github.com/nthbuild/buildmem/sync/semaphore"
	"github.com/nthbuild/buildmem/toolsupport/shutil"
)

// PollInterval is the recommended admission-gate retry cadence.
const PollInterval = 100 * time.Millisecond

// Recipe is one toy compile job. Path is a source-file-shaped token
// embedded into the spawned process's argv so the real Descendant
// Walker can classify it exactly as it would a real compiler
// invocation; Duration controls how long the stand-in process runs.
type Recipe struct {
	Path     string
	Duration time.Duration
}

// Runner drives a batch of Recipes through the admission gate before
// spawning each one, bounded by a separate jobserver-style
// concurrency semaphore.
type Runner struct {
	core *buildmem.Core
	sem  *semaphore.Semaphore
}

// NewRunner returns a Runner that admits jobs through core and never
// runs more than concurrency recipes at once.
func NewRunner(core *buildmem.Core, concurrency int) *Runner {
	return &Runner{
		core: core,
		sem:  semaphore.New("buildmem-democmd", concurrency),
	}
}

// Run spawns every recipe, polling the admission gate before each
// spawn and explicitly releasing its reservation once the process
// exits, rather than waiting on the walker to notice. It returns an
// aggregate of every recipe's failure, if any.
func (r *Runner) Run(ctx context.Context, recipes []Recipe) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	for _, recipe := range recipes {
		_, release, err := r.sem.WaitAcquire(ctx)
		if err != nil {
			mu.Lock()
			errs = multierror.Append(errs, fmt.Errorf("recipe %s: acquire jobserver slot: %w", recipe.Path, err))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(recipe Recipe, done func()) {
			defer wg.Done()
			defer done()
			if err := r.runOne(ctx, recipe); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("recipe %s: %w", recipe.Path, err))
				mu.Unlock()
			}
		}(recipe, release)
	}

	wg.Wait()
	return errs.ErrorOrNil()
}

func (r *Runner) runOne(ctx context.Context, recipe Recipe) error {
	// callerPID identifies this process to the admission gate: every
	// recipe this runner spawns is, from the OS's point of view, a
	// child of this same process, so a reservation made under
	// callerPID and a release keyed to the same value stay paired
	// regardless of which goroutine or recipe triggered each call.
	//
	// Every concurrent recipe shares this one pid, so their Reserve and
	// Release calls all land on the same shared-region slot: two
	// recipes in flight at once will overwrite rather than accumulate
	// each other's required-MiB figures. A real recipe runner forks a
	// distinct child pid per recipe and doesn't have this problem; this
	// toy runner never does, so it's tolerable here.
	callerPID := int32(os.Getpid())

	for {
		res := r.core.MaySpawn(ctx, fakeCmdline(recipe), callerPID)
		if res.Decision == admission.Go {
			break
		}
		corelog.Verbosef(ctx, "democmd: waiting to spawn %s (required=%dMiB effective_free=%dMiB)", recipe.Path, res.RequiredMiB, res.EffectiveFree)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}

	// sh runs the sleep and then the ":" builtin, so sh itself stays the
	// recipe's process for its whole duration; recipe.Path is its $0, a
	// bare argv token the walker classifies to the same profile key as
	// fakeCmdline's.
	argv := []string{"sh", "-c", fmt.Sprintf("sleep %.3f; :", recipe.Duration.Seconds()), recipe.Path}
	corelog.Verbosef(ctx, "democmd: spawning %s", shutil.Join(argv))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	err := cmd.Wait()
	r.core.Release(ctx, callerPID)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// fakeCmdline builds a command line that looks like a real compiler
// invocation for classify.Classifier's purposes, without actually
// invoking a compiler.
func fakeCmdline(recipe Recipe) string {
	return fmt.Sprintf("cc -o %s.o %s", recipe.Path, recipe.Path)
}
