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
	"testing"

	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestConfig(t *testing.T) {
	t.Parallel()

	cfg := NewTestConfig(t, "")
	assert.Equal(t, config.DefaultMountBackend, cfg.MountBackend())
	assert.NotEmpty(t, cfg.DeviceID())

	cfg = NewTestConfig(t, "config_schema = 1\n[watcher]\nevent_buffer = 4\n")
	assert.Equal(t, 4, cfg.EventBuffer())
}

func TestMountTable(t *testing.T) {
	t.Parallel()

	table := NewMountTable("/proc/self/mounts")
	require.NoError(t, table.Mount("/dev/sdb1", "/media/user/USB STICK"))
	require.NoError(t, table.Mount("/dev/sdc1", "/media/user/CARD"))

	arb := mount.NewMountTableArbiter(table.Fs, table.Path)
	s, err := arb.OpenSession()
	require.NoError(t, err)
	path, ok := s.VolumePath("sdb1")
	assert.True(t, ok)
	assert.Equal(t, "/media/user/USB STICK", path)
	require.NoError(t, s.Close())

	require.NoError(t, table.Unmount("/dev/sdb1"))
	s, err = arb.OpenSession()
	require.NoError(t, err)
	_, ok = s.VolumePath("sdb1")
	assert.False(t, ok)
	_, ok = s.VolumePath("sdc1")
	assert.True(t, ok)
	require.NoError(t, s.Close())
}

func TestMemoryArbiter(t *testing.T) {
	t.Parallel()

	arb := NewMemoryArbiter()
	arb.Mount("disk4s1", "/Volumes/CRUZER")

	s, err := arb.OpenSession()
	require.NoError(t, err)
	path, ok := s.VolumePath("disk4s1")
	assert.True(t, ok)
	assert.Equal(t, "/Volumes/CRUZER", path)
	require.NoError(t, s.Close())

	opened, closed := arb.Sessions()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}
