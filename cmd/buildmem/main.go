// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command buildmem is a memory-aware admission core for parallel build
// tools, plus a toy recipe runner used only to exercise it end to end.
// It is not itself a build tool: it never parses a Makefile or ninja
// file and never implements a jobserver token protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maruel/subcommands"

	"github.com/nthbuild/buildmem/buildmem"
	"github.com/nthbuild/buildmem/democmd"
	"github.com/nthbuild/buildmem/o11y/corelog"
	"github.com/nthbuild/buildmem/runtimex"
	"github.com/nthbuild/buildmem/subcmd/classify"
	"github.com/nthbuild/buildmem/subcmd/help"
	"github.com/nthbuild/buildmem/subcmd/status"
	"github.com/nthbuild/buildmem/subcmd/version"
)

// buildmemVersion is stamped by the release process; unset in
// development builds.
var buildmemVersion = "dev"

func main() {
	app := &subcommands.DefaultApplication{
		Name:  "buildmem",
		Title: "memory-aware job admission and accounting core",
		Commands: []*subcommands.Command{
			cmdRun(),
			status.Cmd(),
			classify.Cmd(),
			version.Cmd(buildmemVersion),
			help.Cmd(),
			subcommands.CmdHelp,
		},
	}
	os.Exit(subcommands.Run(app, os.Args[1:]))
}

// cmdRun returns the `run` subcommand, which drives democmd's toy
// recipe runner through a live buildmem.Core — the only place this
// binary spawns anything.
func cmdRun() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "run [-jobs N] <path>...",
		ShortDesc: "runs toy recipes through the admission core",
		LongDesc:  "Runs one toy recipe per positional argument, admitting each through the memory-aware gate before spawning it. Intended for exercising admission/walker/monitor, not for building anything real.",
		CommandRun: func() subcommands.CommandRun {
			c := &runRun{}
			c.init()
			return c
		},
	}
}

type runRun struct {
	subcommands.CommandRunBase
	jobs int
}

func (c *runRun) init() {
	c.Flags.IntVar(&c.jobs, "jobs", runtimex.NumCPU(), "maximum concurrent recipes")
}

func (c *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) == 0 {
		fmt.Fprintf(a.GetErr(), "%s: at least one recipe path required\n", a.GetName())
		return 2
	}

	ctx := context.Background()
	verbosity := corelog.Info
	if v := os.Getenv("BUILDMEM_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			verbosity = corelog.Level(n)
		}
	}
	ctx = corelog.NewContext(ctx, verbosity)

	enabled := true
	if v := os.Getenv("BUILDMEM_ENABLED"); v != "" {
		enabled = !isFalsy(v)
	}

	core, err := buildmem.New(ctx, buildmem.Config{
		Enabled:         enabled,
		DisplayDisabled: os.Getenv("BUILDMEM_NO_DISPLAY") != "",
		Verbosity:       verbosity,
	})
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
		return 1
	}
	defer core.Teardown(ctx)

	recipes := make([]democmd.Recipe, len(args))
	for i, path := range args {
		recipes[i] = democmd.Recipe{Path: path, Duration: 500 * time.Millisecond}
	}

	runner := democmd.NewRunner(core, c.jobs)
	if err := runner.Run(ctx, recipes); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
		return 1
	}
	return 0
}

// isFalsy recognizes the on/off toggle's falsy spellings: 0, no,
// false.
func isFalsy(v string) bool {
	switch v {
	case "0", "no", "false":
		return true
	default:
		return false
	}
}
