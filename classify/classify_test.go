// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromArgvLastMatchWins(t *testing.T) {
	c := New()
	path, ok := c.FromArgv([]string{"gcc", "-Iinclude", "-o", "out/a.o", "src/a.cpp"})
	assert.True(t, ok)
	assert.Equal(t, "src/a.cpp", path)
}

func TestFromArgvNoSeparatorMeansNoCandidate(t *testing.T) {
	c := New()
	_, ok := c.FromArgv([]string{"gcc", "a.cpp"})
	assert.False(t, ok)
}

func TestFromArgvTieKeepsLastInTokenOrder(t *testing.T) {
	c := New()
	path, ok := c.FromArgv([]string{"cc", "src/first.cpp", "src/second.cc"})
	assert.True(t, ok)
	assert.Equal(t, "src/second.cc", path)
}

func TestFromArgvStripsLeadingDotDot(t *testing.T) {
	c := New()
	path, ok := c.FromArgv([]string{"cc", "../../src/a.cc"})
	assert.True(t, ok)
	assert.Equal(t, "src/a.cc", path)
}

func TestFromArgvQuotedArgument(t *testing.T) {
	c := New()
	// The opening quote is a left boundary and the closing one is
	// trimmed, but whitespace inside the quotes still separates tokens,
	// so only the last whitespace-free segment is a candidate.
	path, ok := c.FromArgv([]string{"cc", `"src/has space/a.cpp"`})
	assert.True(t, ok)
	assert.Equal(t, "space/a.cpp", path)
}

func TestClassificationIsIdempotent(t *testing.T) {
	c := New()
	path, ok := c.FromArgv([]string{"cc", "-o", "out.o", "sub/dir/x.c"})
	assert.True(t, ok)
	path2, ok2 := c.FromArgv([]string{path})
	assert.True(t, ok2)
	assert.Equal(t, path, path2)
}

func TestFromCmdlineIgnoresFlagValues(t *testing.T) {
	c := New()
	_, ok := c.FromCmdline("cc -Iinclude/foo -c")
	assert.False(t, ok)
}
