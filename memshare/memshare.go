// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package memshare implements the Shared Accounting Region: a
// fixed-size, host-global memory object that lets every process in a
// build tree — top-level and every sub-build — agree on how much
// memory is currently reserved or in flight.
//
// Grounded on GNU Make's struct shared_memory_data and
// init_shared_memory/reserve_memory_mb: a POSIX shared-memory object
// under a well-known name, holding a fixed reservation table plus two
// running scalars, guarded by process-shared locks. Go has no
// pthread_mutex_t binding, so the two process-shared mutexes become
// one process-shared advisory file lock (golang.org/x/sys/unix.Flock
// on the backing file descriptor) — see DESIGN.md's Open Question
// decision. The mmap technique itself is grounded on storj's
// jobqueue_unix.go, which maps a fixed-layout region with
// unix.Mmap/unix.Munmap for the same reason: avoiding a language-level
// allocator for data shared with other processes.
package memshare

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/nthbuild/buildmem/o11y/corelog"
)

// MaxReservations bounds the reservation table: 64 in the reference
// implementation, and any value at or above expected peak concurrency
// suffices.
const MaxReservations = 64

// DefaultName is the well-known shared-region name, following the
// reference implementation's "/<tool>_memory_shared" pattern
// instantiated for this tool.
const DefaultName = "buildmem_shared"

// reservation is one (pid, reserved_mib) slot. A zero pid marks a free
// slot, mirroring struct pid_reservation.
type reservation struct {
	pid uint32
	mib uint32
}

// layout is the shared region's fixed on-disk/in-memory shape. Every
// field is fixed-width and naturally aligned to 8 bytes, required for
// the atomic-scalar fields to be safely read and written across
// processes.
type layout struct {
	reservationCount uint32
	_pad0            uint32
	reservations     [MaxReservations]reservation
	unusedPeaksMiB   uint64
	reservedMiB      uint64
}

var layoutSize = int(unsafe.Sizeof(layout{}))

// Region is a handle onto the mapped Shared Accounting Region. The
// zero value is not usable; use Open.
type Region struct {
	// procMu serializes access from goroutines within this process; the
	// backing lock below serializes access across processes. Neither
	// substitutes for the other since flock is not reentrant across
	// concurrent callers sharing one fd.
	procMu  sync.Mutex
	data    *layout
	backing *mapping
	name    string
}

// Stats is a point-in-time snapshot of the region's published totals:
// imminent memory is reserved_mib + unused_peaks_mib.
type Stats struct {
	ReservationCount uint32
	ReservedMiB      uint64
	UnusedPeaksMiB   uint64
}

// Open maps or creates the named shared region. topLevel selects the
// initialization discipline: only a top-level process zeros the
// region on attach; a sub-build only ever attaches without disturbing
// state concurrent siblings may be updating.
func Open(ctx context.Context, name string, topLevel bool) (*Region, error) {
	if name == "" {
		name = DefaultName
	}
	m, created, err := openMapping(name, layoutSize)
	if err != nil {
		return nil, fmt.Errorf("memshare: open %q: %w", name, err)
	}

	r := &Region{
		data:    (*layout)(unsafe.Pointer(m.base())),
		backing: m,
		name:    name,
	}

	if topLevel {
		r.lock()
		*r.data = layout{}
		r.unlock()
		if created {
			corelog.Infof(ctx, "memshare: created shared region %q", name)
		} else {
			corelog.Infof(ctx, "memshare: reused and zeroed stale shared region %q", name)
		}
	}
	return r, nil
}

// Close unmaps the region. A top-level process should also call
// Unlink once no sub-build can still be attaching, so every acquired
// OS resource is released on all exit paths.
func (r *Region) Close() error {
	return r.backing.close()
}

// Unlink removes the named backing object from the host, so a future
// build starts fresh rather than inheriting today's mapping. Only the
// top-level process should call this, and only after Close.
func Unlink(name string) error {
	if name == "" {
		name = DefaultName
	}
	return unlinkMapping(name)
}

func (r *Region) lock() {
	r.procMu.Lock()
	r.backing.flock()
}

func (r *Region) unlock() {
	r.backing.funlock()
	r.procMu.Unlock()
}

// Reserve implements the allocation policy: find-or-create a slot for
// pid, then set its reserved_mib and adjust the running total by the
// signed delta. Returns false if no slot was available for a
// brand-new pid, in which case the caller proceeds without a
// reservation but logs the shortfall, and also false for pid <= 0,
// since pid == 0 is the free-slot marker and must never itself hold a
// reservation.
func (r *Region) Reserve(ctx context.Context, pid int32, mib uint32) bool {
	if pid <= 0 {
		corelog.Warningf(ctx, "memshare: refusing to reserve %dMiB for non-positive pid=%d", mib, pid)
		return false
	}
	d := r.data
	upid := uint32(pid)

	r.lock()
	defer r.unlock()

	idx := -1
	count := int(d.reservationCount)
	for i := 0; i < count && i < MaxReservations; i++ {
		if d.reservations[i].pid == upid {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := 0; i < MaxReservations; i++ {
			if d.reservations[i].pid == 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			corelog.Warningf(ctx, "memshare: no reservation slots available (max=%d), pid=%d not tracked", MaxReservations, pid)
			return false
		}
		d.reservations[idx].pid = upid
		d.reservations[idx].mib = 0
		if idx >= count {
			d.reservationCount = uint32(idx + 1)
		}
	}

	old := d.reservations[idx].mib
	d.reservations[idx].mib = mib
	switch {
	case mib >= old:
		d.reservedMiB += uint64(mib - old)
	case d.reservedMiB < uint64(old-mib):
		d.reservedMiB = 0
	default:
		d.reservedMiB -= uint64(old - mib)
	}
	corelog.Verbosef(ctx, "memshare: reserved[%d] pid=%d %dMiB -> %dMiB, total=%dMiB", idx, pid, old, mib, d.reservedMiB)
	return true
}

// Release implements release(pid): zero this pid's reserved_mib and
// free its slot. Releasing a pid with no active reservation is a
// silent no-op.
func (r *Region) Release(ctx context.Context, pid int32) {
	if pid <= 0 {
		return
	}
	d := r.data
	upid := uint32(pid)

	r.lock()
	defer r.unlock()

	count := int(d.reservationCount)
	for i := 0; i < count && i < MaxReservations; i++ {
		if d.reservations[i].pid != upid {
			continue
		}
		old := d.reservations[i].mib
		if uint64(old) > d.reservedMiB {
			d.reservedMiB = 0
		} else {
			d.reservedMiB -= uint64(old)
		}
		d.reservations[i].mib = 0
		d.reservations[i].pid = 0
		corelog.Verbosef(ctx, "memshare: released slot %d pid=%d (-%dMiB), total=%dMiB", i, pid, old, d.reservedMiB)
		return
	}
}

// SetUnusedPeaksMiB publishes the walker's per-tick unused_peaks_mib
// figure, replacing the previous value.
func (r *Region) SetUnusedPeaksMiB(v uint64) {
	r.lock()
	r.data.unusedPeaksMiB = v
	r.unlock()
}

// Snapshot reads the region's published totals under lock, for the
// admission gate's imminent-memory calculation and the status
// renderer's bar.
func (r *Region) Snapshot() Stats {
	r.lock()
	defer r.unlock()
	return Stats{
		ReservationCount: r.data.reservationCount,
		ReservedMiB:      r.data.reservedMiB,
		UnusedPeaksMiB:   r.data.unusedPeaksMiB,
	}
}
