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
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionsArbiter_Session(t *testing.T) {
	t.Parallel()

	a := &PartitionsArbiter{list: func(context.Context, bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda2", Mountpoint: "/"},
			{Device: "/dev/sdb1", Mountpoint: "/run/media/user/STICK/"},
			{Device: "/dev/sdb1", Mountpoint: "/mnt/bind"},
			{Device: "tmpfs", Mountpoint: "/tmp"},
			{Device: "/dev/sdc1", Mountpoint: ""},
		}, nil
	}}

	s, err := a.OpenSession()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	p, ok := s.VolumePath("sdb1")
	assert.True(t, ok)
	assert.Equal(t, "/run/media/user/STICK", p)

	_, ok = s.VolumePath("tmpfs")
	assert.False(t, ok)
	_, ok = s.VolumePath("sdc1")
	assert.False(t, ok)
}

func TestPartitionsArbiter_Error(t *testing.T) {
	t.Parallel()

	a := &PartitionsArbiter{list: func(context.Context, bool) ([]disk.PartitionStat, error) {
		return nil, errors.New("boom")
	}}
	_, err := a.OpenSession()
	require.Error(t, err)
}

func TestNewArbiter_Partitions(t *testing.T) {
	t.Parallel()

	a, err := NewArbiter(ArbiterOptions{Backend: BackendPartitions})
	require.NoError(t, err)
	assert.IsType(t, &PartitionsArbiter{}, a)
}
