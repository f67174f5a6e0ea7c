// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package statusui implements the Status Renderer: the single status
// line the monitor loop redraws on a 300 ms cadence.
//
// Grounded on siso's termui.go's TermUI: a cached terminal width
// queried once at construction and never again from the render path,
// and the same "\r\033[K" carriage-return-then-clear redraw idiom
// TermUI.PrintLines and termSpinner.Stop use. The spinner glyph
// cycling is grounded on siso's spinner.go's Spinner.Start.
package statusui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// spinnerFrames mirrors ui/spinner.go's cycling glyph set.
const spinnerFrames = `/-\|`

// barWidth is the bar's fixed column count, a small fixed number of
// columns (roughly 20).
const barWidth = 20

// Zones is one tick's memory breakdown, in the order the bar renders
// them: build-tracked, other used, imminent, free.
type Zones struct {
	BuildTrackedMiB uint64
	OtherUsedMiB    uint64
	ImminentMiB     uint64
	FreeMiB         uint64
}

func (z Zones) total() uint64 {
	return z.BuildTrackedMiB + z.OtherUsedMiB + z.ImminentMiB + z.FreeMiB
}

// Renderer draws the single status line. The zero value has no output
// writer and is not usable; use New. A Renderer that fails to query
// the terminal at construction disables itself permanently.
type Renderer struct {
	out      io.Writer
	width    int
	state    *term.State
	fd       int
	disabled bool
	frame    int
	lastLen  int
}

// New queries the terminal once — width and saved attributes — and
// returns a Renderer bound to fd (typically a duplicated stderr
// descriptor owned by the monitor loop). out should wrap that same fd
// (e.g. os.NewFile(uintptr(fd), ...)), so the isolation duplicating
// the descriptor buys actually holds: state queries, restores and
// writes all go through the one owned fd rather than os.Stderr. If fd
// is not a terminal, or the query fails, the returned Renderer is
// disabled: Render becomes a no-op rather than an error, since a
// non-interactive build should proceed silently.
func New(fd int, out io.Writer) *Renderer {
	r := &Renderer{out: out, fd: fd}
	if !term.IsTerminal(fd) {
		r.disabled = true
		return r
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		r.disabled = true
		return r
	}
	state, err := term.GetState(fd)
	if err != nil {
		r.disabled = true
		return r
	}
	r.width = w
	r.state = state
	return r
}

// Disabled reports whether the renderer is inert, because construction
// failed, because a write in Render failed, or because Disable was
// called.
func (r *Renderer) Disabled() bool {
	return r.disabled
}

// Disable permanently turns off rendering, the same state Render
// enters on its own when a write to out fails, so a closed pipe on the
// far end of stderr doesn't turn every subsequent tick into a repeated
// error.
func (r *Renderer) Disable() {
	r.disabled = true
}

// Close restores the terminal attributes captured at New.
func (r *Renderer) Close() error {
	if r.state == nil {
		return nil
	}
	return term.Restore(r.fd, r.state)
}

// ErrRendererDead is returned by Render when the underlying write
// failed — a broken pipe or a pager that exited out from under the
// build. It permanently disables the renderer and signals the monitor
// loop to stop drawing. The monitor loop checks for this sentinel
// after every render call so it can flip its own render-disabled flag
// without stopping the walk/accounting side of the tick.
var ErrRendererDead = errors.New("statusui: renderer write failed, status line disabled")

// Render draws one frame of the status line: "<spinner> <bar>
// <percent>% (<free> MiB) <jobs> jobs". It returns ErrRendererDead when the
// underlying write fails; the caller should treat this as
// informational, not fatal.
func (r *Renderer) Render(z Zones, percent uint32, jobs int) error {
	if r.disabled {
		return nil
	}

	spin := spinnerFrames[r.frame%len(spinnerFrames)]
	r.frame++

	bar := r.renderBar(z)
	line := fmt.Sprintf("%c %s %3d%% (%d MiB) %d jobs", spin, bar, percent, z.FreeMiB, jobs)
	line = clipToWidth(line, r.width)

	_, err := fmt.Fprintf(r.out, "\r\033[K%s", line)
	if err != nil {
		r.disabled = true
		return ErrRendererDead
	}
	r.lastLen = len(line)
	return nil
}

// Clear erases the current line, leaving the cursor at column zero.
// The monitor loop calls this once on clean shutdown.
func (r *Renderer) Clear() {
	if r.disabled || r.lastLen == 0 {
		return
	}
	fmt.Fprint(r.out, "\r\033[K")
	r.lastLen = 0
}

// renderBar composes the four zones into barWidth characters,
// proportional to each zone's share of the tick's total. A zero total
// renders an all-free bar rather than dividing by zero.
func (r *Renderer) renderBar(z Zones) string {
	total := z.total()
	if total == 0 {
		return "[" + repeat('.', barWidth) + "]"
	}

	cells := [4]rune{'#', '=', '~', '.'}
	shares := [4]uint64{z.BuildTrackedMiB, z.OtherUsedMiB, z.ImminentMiB, z.FreeMiB}

	buf := make([]rune, 0, barWidth)
	used := 0
	for i, share := range shares {
		n := int(share * uint64(barWidth) / total)
		if i == len(shares)-1 {
			// Last zone absorbs any rounding remainder so the bar always
			// fills exactly barWidth columns.
			n = barWidth - used
		}
		for j := 0; j < n; j++ {
			buf = append(buf, cells[i])
		}
		used += n
	}
	return "[" + string(buf) + "]"
}

func repeat(r rune, n int) string {
	buf := make([]rune, n)
	for i := range buf {
		buf[i] = r
	}
	return string(buf)
}

func clipToWidth(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	return s[:width]
}

// StderrFD returns the duplicated file descriptor the monitor loop
// should keep open for the lifetime of its renderer, and close on
// exit. Duplicating stderr rather than using os.Stderr directly means
// the renderer's fd survives independent of anything else that might
// close os.Stderr during shutdown.
func StderrFD() (int, error) {
	dup, err := dupFD(int(os.Stderr.Fd()))
	if err != nil {
		return -1, fmt.Errorf("statusui: dup stderr: %w", err)
	}
	return dup, nil
}
