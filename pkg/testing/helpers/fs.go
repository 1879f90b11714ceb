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

package helpers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MountTable builds an fstab-format mount table on an in-memory
// filesystem for mount.MountTableArbiter.
type MountTable struct {
	Fs      afero.Fs
	Path    string
	entries []string
}

// NewMountTable creates an empty table at path on a new memory filesystem.
func NewMountTable(path string) *MountTable {
	return &MountTable{Fs: afero.NewMemMapFs(), Path: path}
}

// Mount adds device mounted at dir and rewrites the table. Spaces in dir
// are escaped the way the kernel escapes them.
func (m *MountTable) Mount(device, dir string) error {
	dir = strings.ReplaceAll(dir, " ", `\040`)
	m.entries = append(m.entries, fmt.Sprintf("%s %s auto rw,nosuid,nodev 0 0", device, dir))
	return m.write()
}

// Unmount removes every entry for device and rewrites the table.
func (m *MountTable) Unmount(device string) error {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !strings.HasPrefix(e, device+" ") {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return m.write()
}

func (m *MountTable) write() error {
	if err := m.Fs.MkdirAll(filepath.Dir(m.Path), 0o750); err != nil {
		return fmt.Errorf("failed to create mount table directory: %w", err)
	}
	data := strings.Join(m.entries, "\n")
	if data != "" {
		data += "\n"
	}
	if err := afero.WriteFile(m.Fs, m.Path, []byte(data), 0o444); err != nil {
		return fmt.Errorf("failed to write mount table: %w", err)
	}
	return nil
}
