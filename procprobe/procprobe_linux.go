// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build linux

package procprobe

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

type procInfo struct {
	ppid     PID
	rssMiB   uint64
	cmdline  string
	hasStat  bool
}

// linuxProber snapshots /proc once per Refresh and answers every
// question from that snapshot. Grounded on GNU Make's
// find_child_descendants, which reads /proc/<pid>/status for
// PPid:/VmRSS: and /proc/<pid>/cmdline for classification, but calls
// opendir("/proc") freshly at every level of recursion; here we scan
// once and reuse the snapshot for the whole tree. That one scan still
// reads the status file of every process on the host, so each tick
// costs O(all_processes), not O(live_descendants).
type linuxProber struct {
	procs    map[PID]procInfo
	children map[PID][]PID
}

func newProber() Prober {
	return &linuxProber{}
}

func (p *linuxProber) Refresh() {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		p.procs = nil
		p.children = nil
		return
	}
	procs := make(map[PID]procInfo, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "" || name[0] < '0' || name[0] > '9' {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil || n <= 0 {
			continue
		}
		pid := PID(n)
		info, ok := readStatus(pid)
		if !ok {
			continue
		}
		procs[pid] = info
	}
	children := make(map[PID][]PID, len(procs))
	for pid, info := range procs {
		if !info.hasStat {
			continue
		}
		children[info.ppid] = append(children[info.ppid], pid)
	}
	p.procs = procs
	p.children = children
}

func readStatus(pid PID) (procInfo, bool) {
	f, err := os.Open("/proc/" + strconv.Itoa(int(pid)) + "/status")
	if err != nil {
		return procInfo{}, false
	}
	defer f.Close()

	var info procInfo
	var haveRSS, havePPid bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case !havePPid && strings.HasPrefix(line, "PPid:"):
			fields := strings.Fields(line)
			if len(fields) == 2 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					info.ppid = PID(n)
					havePPid = true
				}
			}
		case !haveRSS && strings.HasPrefix(line, "VmRSS:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if n, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					info.rssMiB = n / 1024
					haveRSS = true
				}
			}
		}
		if haveRSS && havePPid {
			break
		}
	}
	if !havePPid {
		return procInfo{}, false
	}
	info.hasStat = true
	return info, true
}

func (p *linuxProber) RSSMiB(pid PID) (uint64, bool) {
	info, ok := p.procs[pid]
	if !ok {
		return 0, false
	}
	return info.rssMiB, true
}

func (p *linuxProber) ParentOf(pid PID) (PID, bool) {
	info, ok := p.procs[pid]
	if !ok {
		return 0, false
	}
	return info.ppid, true
}

func (p *linuxProber) Cmdline(pid PID) (string, bool) {
	// Cmdline is read fresh rather than cached in the snapshot: it's
	// only needed once, the first time a new descendant is classified,
	// and reading it eagerly for every live process on every tick would
	// be wasted work for the common case of an already-classified
	// descendant.
	b, err := os.ReadFile("/proc/" + strconv.Itoa(int(pid)) + "/cmdline")
	if err != nil || len(b) == 0 {
		return "", false
	}
	for i, c := range b {
		if c == 0 {
			b[i] = ' '
		}
	}
	return strings.TrimRight(string(b), " "), true
}

func (p *linuxProber) Children(parent PID) []PID {
	return p.children[parent]
}
