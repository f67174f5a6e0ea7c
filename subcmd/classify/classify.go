// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package classify provides the classify subcommand: a debugging aid
// that runs the Command-line Classifier against a command line typed
// as a human would type it at a shell, rather than one already split
// into argv by the OS.
//
// Grounded on toolsupport/shutil.Split for the shell-word splitting
// (the classifier's own tokenizer is intentionally total and does not
// reject shell metacharacters; this subcommand uses shutil.Split first
// so a malformed or piped command line is reported as a usage error
// instead of silently misclassified) and shutil.Join to echo back the
// argv the classifier actually saw.
package classify

import (
	"fmt"
	"strings"

	"github.com/maruel/subcommands"

	classifypkg "github.com/nthbuild/buildmem/classify"
	"github.com/nthbuild/buildmem/toolsupport/shutil"
)

// Cmd returns the Command for the `classify` subcommand.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "classify <cmdline>",
		ShortDesc: "shows how a command line classifies for profiling",
		LongDesc:  "Splits the given command line the way a shell would, then reports the source path the Command-line Classifier extracts from it, if any.",
		CommandRun: func() subcommands.CommandRun {
			return &run{}
		},
	}
}

type run struct {
	subcommands.CommandRunBase
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) == 0 {
		fmt.Fprintf(a.GetErr(), "%s: a command line argument is required\n", a.GetName())
		return 2
	}
	cmdline := strings.Join(args, " ")

	argv, err := shutil.Split(cmdline)
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
		return 1
	}
	fmt.Fprintf(a.GetOut(), "argv: %s\n", shutil.Join(argv))

	path, ok := classifypkg.New().FromArgv(argv)
	if !ok {
		fmt.Fprintln(a.GetOut(), "no source path recognized")
		return 0
	}
	fmt.Fprintf(a.GetOut(), "path: %s\n", path)
	return 0
}
