// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !unix

package memshare

import "fmt"

// mapping has no implementation on non-POSIX hosts. openMapping always
// errors, so callers fall back to running without cross-process
// accounting rather than ever constructing one of these.
type mapping struct{}

func openMapping(name string, size int) (*mapping, bool, error) {
	return nil, false, fmt.Errorf("memshare: shared regions are not supported on this platform")
}

func unlinkMapping(name string) error { return nil }

func (m *mapping) close() error { return nil }
func (m *mapping) flock()       {}
func (m *mapping) funlock()     {}

// base is never reached in practice since openMapping always fails
// before a mapping value exists, but must satisfy the same signature
// as the unix implementation for memshare.go to compile on every
// platform.
func (m *mapping) base() *byte { return nil }
