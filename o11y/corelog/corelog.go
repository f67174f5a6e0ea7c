// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package corelog provides the single family of diagnostic calls the
// memory core uses, gated by a verbosity integer with levels from
// silent through maximum. It keeps a context-aware, glog-backed shape
// but drops the Cloud Logging Entry plumbing this core has no use for.
package corelog

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Level is a diagnostic verbosity level. Higher is noisier.
type Level int

const (
	// Silent disables all diagnostic output.
	Silent Level = 0
	// Info is normal operational detail (admission decisions, flushes).
	Info Level = 1
	// Verbose is per-tick walker/monitor detail.
	Verbose Level = 2
	// Max is everything, including per-descendant bookkeeping.
	Max Level = 3
)

type levelKeyType int

var levelKey levelKeyType

// NewContext returns a context carrying the configured verbosity level.
func NewContext(ctx context.Context, level Level) context.Context {
	return context.WithValue(ctx, levelKey, level)
}

func levelFrom(ctx context.Context) Level {
	l, ok := ctx.Value(levelKey).(Level)
	if !ok {
		return Info
	}
	return l
}

// V reports whether diagnostics at the given level should be emitted.
func V(ctx context.Context, level Level) bool {
	return levelFrom(ctx) >= level
}

// Infof logs at Info level.
func Infof(ctx context.Context, format string, args ...any) {
	if !V(ctx, Info) {
		return
	}
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}

// Verbosef logs at Verbose level.
func Verbosef(ctx context.Context, format string, args ...any) {
	if !V(ctx, Verbose) {
		return
	}
	glog.InfoDepth(1, fmt.Sprintf("[verbose] "+format, args...))
}

// Warningf logs a recoverable-but-notable condition. Always emitted
// regardless of verbosity: resource shortfalls and integrity
// mismatches are logged at warning level even when diagnostics are
// otherwise silenced.
func Warningf(ctx context.Context, format string, args ...any) {
	glog.WarningDepth(1, fmt.Sprintf(format, args...))
}

// Errorf logs an error-level diagnostic. Never propagated to the
// caller: nothing in the core raises exceptions across its API.
func Errorf(ctx context.Context, format string, args ...any) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
}

// Flush flushes buffered log entries. Call on lifecycle teardown.
func Flush() {
	glog.Flush()
}
