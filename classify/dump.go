// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nthbuild/buildmem/o11y/corelog"
)

// DumpDir, when non-empty, enables a maximum-verbosity classification
// dump: a small diagnostic file recording what was classified from a
// given command line. It mirrors GNU Make's extract_filename_common,
// which always wrote such a file to /tmp; here it is opt-in and off by
// default, since a successful build should leave no user-visible
// artifacts beyond the status line.
var DumpDir string

// MaybeDump writes a classification diagnostic file when DumpDir is set
// and diagnostics are at corelog.Max. The original used an HHMMSSms
// timestamp to keep filenames unique per caller; a UUID is simpler and
// collision-free across the concurrent sub-builds this core supports.
func MaybeDump(ctx context.Context, caller, cmdline, path string, ok bool) {
	if DumpDir == "" || !corelog.V(ctx, corelog.Max) {
		return
	}
	name := fmt.Sprintf("buildmem_%s_%s.txt", caller, uuid.NewString())
	f, err := os.Create(filepath.Join(DumpDir, name))
	if err != nil {
		corelog.Warningf(ctx, "classify: failed to write dump: %v", err)
		return
	}
	defer f.Close()
	if ok {
		fmt.Fprintf(f, "FOUND: %s\n", path)
	}
	fmt.Fprintln(f, cmdline)
}
