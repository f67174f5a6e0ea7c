// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package status provides the status subcommand: a live view of the
// Shared Accounting Region and host memory, independent of any
// running build.
//
// Grounded on the polling-loop idiom of siso's ps subcommand (fetch,
// render, sleep, repeat, with a full-screen clear on a terminal and a
// form-feed separator otherwise) but reading buildmem's Shared
// Accounting Region instead of siso's active-step build state.
package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maruel/subcommands"
	"golang.org/x/term"

	"github.com/nthbuild/buildmem/hostmem"
	"github.com/nthbuild/buildmem/memshare"
)

// Cmd returns the Command for the `status` subcommand.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "status [-region name] [-interval dur] [-n count]",
		ShortDesc: "prints a live view of the shared accounting region",
		LongDesc:  "Prints reservation totals and host free memory. Refreshes on an interval when connected to a terminal; prints once and exits otherwise.",
		CommandRun: func() subcommands.CommandRun {
			c := &run{}
			c.init()
			return c
		},
	}
}

type run struct {
	subcommands.CommandRunBase
	region   string
	interval time.Duration
	n        int
}

func (c *run) init() {
	c.Flags.StringVar(&c.region, "region", memshare.DefaultName, "shared region name")
	c.Flags.DurationVar(&c.interval, "interval", time.Second, "refresh interval")
	c.Flags.IntVar(&c.n, "n", 0, "stop after N refreshes if positive")
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 0 {
		fmt.Fprintf(a.GetErr(), "%s: positional arguments not expected\n", a.GetName())
		return 1
	}

	ctx := context.Background()
	region, err := memshare.Open(ctx, c.region, false)
	if err != nil {
		fmt.Fprintf(a.GetErr(), "status: no shared region %q: %v\n", c.region, err)
		return 1
	}
	defer region.Close()

	host := hostmem.Default()
	isTerm := term.IsTerminal(int(os.Stdout.Fd()))

	for i := 0; c.n <= 0 || i < c.n; i++ {
		c.render(a.GetOut(), isTerm, region, host)
		if c.n > 0 && i == c.n-1 {
			break
		}
		if !isTerm {
			break
		}
		time.Sleep(c.interval)
	}
	return 0
}

func (c *run) render(out io.Writer, isTerm bool, region *memshare.Region, host hostmem.Prober) {
	stats := region.Snapshot()
	sample := host.Sample()

	if isTerm {
		fmt.Fprint(out, "\033[H\033[J")
	} else {
		fmt.Fprint(out, "\f\n")
	}
	fmt.Fprintf(out, "%-24s %10s\n", "reservation_count", fmt.Sprint(stats.ReservationCount))
	fmt.Fprintf(out, "%-24s %10d MiB\n", "reserved_mib", stats.ReservedMiB)
	fmt.Fprintf(out, "%-24s %10d MiB\n", "unused_peaks_mib", stats.UnusedPeaksMiB)
	if sample.Unknown {
		fmt.Fprintf(out, "%-24s %10s\n", "host_free_mib", "unknown")
	} else {
		fmt.Fprintf(out, "%-24s %10d MiB (%d%% used)\n", "host_free_mib", sample.FreeMiB, sample.UsedPercent)
	}
}
