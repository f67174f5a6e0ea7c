// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package classify implements the Command-line Classifier: extracting
// the canonical source-file path from a spawn's argument vector or a
// running process's raw cmdline buffer.
//
// The tokenizer is grounded on toolsupport/shutil.Split's shell-word
// boundary rules (space is a separator, a leading double-quote is a
// boundary), but unlike shutil.Split it is total: the classifier must
// never fail, only return "no candidate" when none applies. The
// extraction logic itself (last-match-wins, require a path separator,
// strip leading "../") is grounded on GNU Make's
// extract_filename_common.
package classify

import "strings"

// DefaultSuffixes are the source-file suffixes recognized out of the
// box: .cpp, .cc, and .c at minimum, extensible by configuration.
var DefaultSuffixes = []string{".cpp", ".cc", ".c"}

// Classifier extracts a canonical source path from a command line.
type Classifier struct {
	// Suffixes lists recognized source-file suffixes, tried in order for
	// each token. Defaults to DefaultSuffixes when empty.
	Suffixes []string
}

// New returns a Classifier configured with DefaultSuffixes.
func New() *Classifier {
	return &Classifier{Suffixes: DefaultSuffixes}
}

func (c *Classifier) suffixes() []string {
	if len(c.Suffixes) > 0 {
		return c.Suffixes
	}
	return DefaultSuffixes
}

// FromArgv classifies a spawn's argument vector, joining it into a
// single command line the same way the tokenizer expects.
func (c *Classifier) FromArgv(argv []string) (path string, ok bool) {
	return c.FromCmdline(strings.Join(argv, " "))
}

// FromCmdline classifies a raw (already space-joined) command line —
// the form both a fresh argv and a /proc/<pid>/cmdline buffer take
// once NUL bytes are converted to spaces (procprobe.Cmdline does this
// conversion). The function is total and idempotent: classifying the
// returned path again yields the same path, since a bare path with a
// separator and a recognized suffix is itself a valid single-token
// command line.
func (c *Classifier) FromCmdline(cmdline string) (path string, ok bool) {
	tokens := tokenize(cmdline)
	var best string
	var found bool
	for _, raw := range tokens {
		tok := strings.TrimSuffix(raw, `"`)
		if hasSourceSuffix(tok, c.suffixes()) && strings.ContainsRune(tok, '/') {
			best = tok
			found = true
		}
	}
	if !found {
		return "", false
	}
	return stripLeadingUp(best), true
}

// tokenize splits cmdline on shell-word boundaries: runs of whitespace
// separate tokens, and a leading double-quote is also treated as a
// left boundary, so a quoted path's opening quote doesn't become part
// of the token.
func tokenize(cmdline string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range cmdline {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		case r == '"' && b.Len() == 0:
			// Leading quote is a boundary marker, not part of the token.
			continue
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func hasSourceSuffix(tok string, suffixes []string) bool {
	for _, sfx := range suffixes {
		if strings.HasSuffix(tok, sfx) {
			return true
		}
	}
	return false
}

// stripLeadingUp strips leading "../" segments so that equivalent
// paths reached from different invocation directories collapse to the
// same profile key.
func stripLeadingUp(path string) string {
	for strings.HasPrefix(path, "../") {
		path = path[len("../"):]
	}
	return path
}
