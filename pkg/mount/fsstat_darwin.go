// Zaparoo USB Watch
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Watch.
//
// Zaparoo USB Watch is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Watch is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Watch.  If not, see <http://www.gnu.org/licenses/>.

//go:build darwin

package mount

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// FSStatArbiter reads the kernel mount list with getfsstat(2). Each session
// is a snapshot of the mounted filesystems when it opened.
type FSStatArbiter struct{}

// NewFSStatArbiter creates a getfsstat backed arbiter.
func NewFSStatArbiter() *FSStatArbiter {
	return &FSStatArbiter{}
}

func (*FSStatArbiter) OpenSession() (Session, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to count mounted filesystems: %w", err)
	}
	if n <= 0 {
		return &snapshotSession{mounts: map[string]string{}}, nil
	}

	buf := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(buf, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to list mounted filesystems: %w", err)
	}

	mounts := make(map[string]string, n)
	for i := range buf[:n] {
		from := cString(buf[i].Mntfromname[:])
		if !strings.HasPrefix(from, "/dev/") {
			continue
		}
		name := strings.TrimPrefix(from, "/dev/")
		if _, seen := mounts[name]; seen {
			continue
		}
		mounts[name] = filepath.Clean(cString(buf[i].Mntonname[:]))
	}

	return &snapshotSession{mounts: mounts}, nil
}

func cString[T ~byte | ~int8](b []T) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		out = append(out, byte(c))
	}
	return string(out)
}
