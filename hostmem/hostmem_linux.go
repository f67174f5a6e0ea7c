// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build linux

package hostmem

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// linuxProber reads /proc/meminfo for total and available memory.
// Grounded on GNU Make's get_memory_stats, which scans the same two
// fields.
type linuxProber struct{}

func newProber() Prober {
	return linuxProber{}
}

func (linuxProber) Sample() Sample {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return Sample{Unknown: true}
	}
	defer f.Close()

	var totalKB, availKB uint64
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			if v, ok := parseKB(line); ok {
				totalKB, haveTotal = v, true
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			if v, ok := parseKB(line); ok {
				availKB, haveAvail = v, true
			}
		}
		if haveTotal && haveAvail {
			break
		}
	}
	if !haveAvail || !haveTotal || totalKB == 0 {
		return Sample{Unknown: true}
	}
	usedPercent := uint32(100 - (availKB*100)/totalKB)
	return Sample{
		FreeMiB:     availKB / 1024,
		UsedPercent: usedPercent,
	}
}

// parseKB parses a "Key: 12345 kB" /proc/meminfo line.
func parseKB(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
