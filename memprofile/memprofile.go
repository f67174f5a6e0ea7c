// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package memprofile implements the Profile Store: an in-memory table
// of (path -> peak_mb, last_used) with a growable backing array and an
// atomically-persisted text cache file.
//
// Grounded on GNU Make's memory_profiles array and
// save_memory_profiles/record_file_memory_usage_by_index: a growable
// array starting at a fixed capacity that doubles on overflow, entries
// never moved or removed, last-writer-wins peak with a one-third decay
// applied only on final exit.
package memprofile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nthbuild/buildmem/o11y/corelog"
)

var bgCtx = context.Background()

// CacheFileName is the on-disk cache file name, resolved relative to
// the top-level process's working directory.
const CacheFileName = ".make_memory_cache"

// initialCapacity is the Profile Store's starting backing-array size.
const initialCapacity = 1000

// flushInterval rate-limits cache writes to at most once per interval.
const flushInterval = 10 * time.Second

// DefaultDecayNum/DefaultDecayDen implement the final decay of
// one-third as a configurable fraction, kept adjustable rather than
// hardcoded so callers with a different corpus can tune it.
const (
	DefaultDecayNum = 1
	DefaultDecayDen = 3
)

// entry is one profile record. Index into Store.entries is stable for
// the entry's lifetime: the profile array only grows, entries are
// never reordered.
type entry struct {
	path     string
	peakMiB  uint32
	lastUsed int64 // unix seconds
}

// Store is the Profile Store. The zero value is not usable; use New.
type Store struct {
	mu   sync.Mutex
	path map[string]int // canonical path -> index into entries
	entries []entry
	dirty   bool

	// DecayNum/DecayDen configure the final-exit decay fraction.
	DecayNum, DecayDen uint32

	lastFlush time.Time
}

// New returns an empty Store with the default capacity policy.
func New() *Store {
	return &Store{
		path:     make(map[string]int, initialCapacity),
		entries:  make([]entry, 0, initialCapacity),
		DecayNum: DefaultDecayNum,
		DecayDen: DefaultDecayDen,
	}
}

// Lookup returns the profile for path, if any.
func (s *Store) Lookup(path string) (index int, peakMiB uint32, lastUsed int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.path[path]
	if !ok {
		return 0, 0, 0, false
	}
	e := s.entries[i]
	return i, e.peakMiB, e.lastUsed, true
}

// PeakMiB is a convenience wrapper over Lookup for callers that only
// need the peak (the admission gate's primary use).
func (s *Store) PeakMiB(path string) (uint32, bool) {
	_, peak, _, ok := s.Lookup(path)
	return peak, ok
}

// now is overridable in tests so peak/decay assertions don't race the
// wall clock.
var now = func() int64 { return time.Now().Unix() }

// InsertOrUpdate implements insert_or_update. With
// final=false the stored peak is raised to max(stored, observed); with
// final=true, if observed < stored, the stored value decays toward
// observed by DecayNum/DecayDen of the gap. Returns the profile index
// and the resulting stored peak.
func (s *Store) InsertOrUpdate(path string, observedMiB uint32, final bool) (index int, storedMiB uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.path[path]
	if !ok {
		if len(s.entries) == cap(s.entries) {
			// Double on overflow, mirroring grow_memory_profiles, which logs
			// each doubling of the backing array. Entries are copied in
			// order, so existing indices stay valid.
			grown := make([]entry, len(s.entries), 2*cap(s.entries))
			copy(grown, s.entries)
			s.entries = grown
			corelog.Verbosef(bgCtx, "memprofile: grew to %d entries", cap(s.entries))
		}
		i = len(s.entries)
		s.entries = append(s.entries, entry{path: path})
		s.path[path] = i
	}

	e := &s.entries[i]
	changed := false
	if final {
		if observedMiB < e.peakMiB {
			gap := e.peakMiB - observedMiB
			decay := gap * s.decayNum() / s.decayDen()
			newPeak := e.peakMiB - decay
			if newPeak != e.peakMiB {
				e.peakMiB = newPeak
				changed = true
			}
		} else if observedMiB != e.peakMiB {
			e.peakMiB = observedMiB
			changed = true
		}
	} else if observedMiB > e.peakMiB {
		e.peakMiB = observedMiB
		changed = true
	}
	e.lastUsed = now()
	if changed {
		s.dirty = true
	}
	return i, e.peakMiB
}

func (s *Store) decayNum() uint32 {
	if s.DecayNum == 0 && s.DecayDen == 0 {
		return DefaultDecayNum
	}
	return s.DecayNum
}

func (s *Store) decayDen() uint32 {
	if s.DecayDen == 0 {
		return DefaultDecayDen
	}
	return s.DecayDen
}

// Dirty reports whether any entry has changed since the last flush.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// FlushIfDirty writes the cache file if dirty and the rate limit
// allows ("flushes are rate-limited to at most once per 10 s").
// Returns whether a write actually happened. Intended for the periodic
// monitor-loop tick; callers that need a guaranteed final write (e.g.
// on teardown) should use Flush instead.
func (s *Store) FlushIfDirty(cacheFilePath string) bool {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return false
	}
	if !s.lastFlush.IsZero() && time.Since(s.lastFlush) < flushInterval {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.Flush(cacheFilePath)
}

// Flush writes the cache file if dirty, ignoring the rate limit. A
// short-lived build can go from empty to teardown in well under 10 s;
// without an unconditional path here, its last InsertOrUpdate (the
// decayed final peak) would never reach disk. Returns whether a write
// actually happened.
func (s *Store) Flush(cacheFilePath string) bool {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return false
	}
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	if err := persist(cacheFilePath, entries); err != nil {
		corelog.Warningf(bgCtx, "memprofile: flush failed: %v", err)
		return false
	}

	s.mu.Lock()
	s.dirty = false
	s.lastFlush = time.Now()
	n := len(entries)
	s.mu.Unlock()
	corelog.Infof(bgCtx, "memprofile: flushed %d profiles (%s)", n, humanize.Bytes(uint64(n)*24))
	return true
}

// persist atomically replaces cacheFilePath: write to a sibling .tmp
// file, then rename over it.
func persist(cacheFilePath string, entries []entry) error {
	tmp := cacheFilePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		if e.peakMiB == 0 {
			// Lines whose peak is zero are omitted.
			continue
		}
		fmt.Fprintf(w, "%d %d %s\n", e.peakMiB, e.lastUsed, e.path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, cacheFilePath)
}

// Load reads cacheFilePath into a fresh Store, tolerating and skipping
// unparseable lines. Called once by the top-level process at startup;
// a missing file yields an empty store.
func Load(cacheFilePath string) *Store {
	s := New()
	f, err := os.Open(cacheFilePath)
	if err != nil {
		return s
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			continue
		}
		peak, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		lastUsed, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		path := fields[2]
		if path == "" || peak == 0 {
			continue
		}
		i := len(s.entries)
		s.entries = append(s.entries, entry{path: path, peakMiB: uint32(peak), lastUsed: lastUsed})
		s.path[path] = i
	}
	return s
}

// DefaultCachePath returns the cache file path for the given working
// directory.
func DefaultCachePath(dir string) string {
	return filepath.Join(dir, CacheFileName)
}
