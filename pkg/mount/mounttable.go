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

package mount

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultMountTable is the kernel's view of the calling process's mounts.
const DefaultMountTable = "/proc/self/mounts"

// MountTableArbiter reads an fstab-format mount table. Each session is a
// snapshot of the table taken when the session opens.
type MountTableArbiter struct {
	fs   afero.Fs
	path string
}

// NewMountTableArbiter reads path from fs. An empty path means
// DefaultMountTable.
func NewMountTableArbiter(fs afero.Fs, path string) *MountTableArbiter {
	if path == "" {
		path = DefaultMountTable
	}
	return &MountTableArbiter{fs: fs, path: path}
}

func (a *MountTableArbiter) OpenSession() (Session, error) {
	f, err := a.fs.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mount table %s: %w", a.path, err)
	}
	defer func() { _ = f.Close() }()

	mounts := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		device := unescapeMountField(fields[0])
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}
		name := strings.TrimPrefix(device, "/dev/")
		if _, seen := mounts[name]; seen {
			continue
		}
		mounts[name] = unescapeMountField(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table %s: %w", a.path, err)
	}

	return &snapshotSession{mounts: mounts}, nil
}

// snapshotSession answers from a device name to mount path map captured
// when the session opened.
type snapshotSession struct {
	mounts map[string]string
}

func (s *snapshotSession) VolumePath(bsdName string) (string, bool) {
	path, ok := s.mounts[bsdName]
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

func (s *snapshotSession) Close() error {
	s.mounts = nil
	return nil
}

// unescapeMountField decodes the octal escapes the kernel uses for spaces,
// tabs, newlines and backslashes in mount table fields.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1:i+4]) {
			v, err := strconv.ParseUint(s[i+1:i+4], 8, 8)
			if err == nil {
				sb.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isOctal(s string) bool {
	for _, c := range s {
		if c < '0' || c > '7' {
			return false
		}
	}
	return len(s) == 3
}
