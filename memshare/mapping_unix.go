// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build unix

package memshare

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapping is a POSIX shared-memory mapping backed by a regular file
// under /dev/shm, opened and mmap'd MAP_SHARED so unrelated processes
// that open the same path see the same pages. This mirrors
// init_shared_memory's shm_open+ftruncate+mmap sequence; Go has no
// shm_open wrapper, and /dev/shm is itself a tmpfs on every Linux host
// GNU Make's shm_open implementation ultimately resolves to, so
// opening the path directly is equivalent.
type mapping struct {
	fd    int
	bytes []byte
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

func openMapping(name string, size int) (*mapping, bool, error) {
	path := shmPath(name)
	created := false

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, false, fmt.Errorf("fstat %s: %w", path, err)
	}
	if st.Size == 0 {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, false, fmt.Errorf("ftruncate %s: %w", path, err)
		}
		created = true
	}

	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, false, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &mapping{fd: fd, bytes: b}, created, nil
}

func unlinkMapping(name string) error {
	err := os.Remove(shmPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (m *mapping) close() error {
	err1 := unix.Munmap(m.bytes)
	err2 := unix.Close(m.fd)
	if err1 != nil {
		return err1
	}
	return err2
}

// base returns a pointer to the mapping's first byte, for the layout
// cast in Open.
func (m *mapping) base() *byte {
	return &m.bytes[0]
}

// flock/funlock implement the process-shared mutex substitute: an
// advisory exclusive lock on the mapping's own file descriptor. Every
// process that opened the same /dev/shm path contends on the same
// underlying file, so this is process-shared in the same sense
// pthread_mutexattr_setpshared(PTHREAD_PROCESS_SHARED) is.
func (m *mapping) flock() {
	// Only EINTR is retriable here; any other error would mean the fd
	// itself is broken, which a caller cannot recover from mid-tick.
	for {
		err := unix.Flock(m.fd, unix.LOCK_EX)
		if err == nil || err != unix.EINTR {
			return
		}
	}
}

func (m *mapping) funlock() {
	unix.Flock(m.fd, unix.LOCK_UN)
}
