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
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

const partitionsTimeout = 5 * time.Second

// PartitionsArbiter reads mounted partitions through gopsutil. It works on
// every platform gopsutil supports and is the default where no native
// backend exists.
type PartitionsArbiter struct {
	list func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
}

func NewPartitionsArbiter() *PartitionsArbiter {
	return &PartitionsArbiter{list: disk.PartitionsWithContext}
}

func (a *PartitionsArbiter) OpenSession() (Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), partitionsTimeout)
	defer cancel()

	parts, err := a.list(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	mounts := make(map[string]string, len(parts))
	for _, p := range parts {
		if !strings.HasPrefix(p.Device, "/dev/") || p.Mountpoint == "" {
			continue
		}
		name := strings.TrimPrefix(p.Device, "/dev/")
		if _, seen := mounts[name]; seen {
			continue
		}
		mounts[name] = filepath.Clean(p.Mountpoint)
	}

	return &snapshotSession{mounts: mounts}, nil
}
