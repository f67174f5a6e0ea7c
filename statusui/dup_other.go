// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !unix

package statusui

import "fmt"

func dupFD(fd int) (int, error) {
	return -1, fmt.Errorf("statusui: fd duplication not supported on this platform")
}
