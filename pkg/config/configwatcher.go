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

package config

import "time"

const (
	DefaultMountBackend = "auto"
	DefaultEventBuffer  = 64
	DefaultMountWait    = 30
)

type Watcher struct {
	// MountBackend is one of auto, udisks2, mounttable or fsstat.
	MountBackend string `toml:"mount_backend,omitempty"`
	MountTable   string `toml:"mount_table,omitempty"`
	SysfsRoot    string `toml:"sysfs_root,omitempty"`
	EventBuffer  int    `toml:"event_buffer,omitempty"`
	// MountWait is how many seconds an unmounted storage device is
	// followed for a late mount. Zero turns following off.
	MountWait *int `toml:"mount_wait,omitempty"`
}

func (c *Instance) MountBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Watcher.MountBackend == "" {
		return DefaultMountBackend
	}
	return c.vals.Watcher.MountBackend
}

func (c *Instance) SetMountBackend(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Watcher.MountBackend = backend
}

// MountTable returns the mount table override, empty for the platform
// default.
func (c *Instance) MountTable() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Watcher.MountTable
}

func (c *Instance) SysfsRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Watcher.SysfsRoot
}

// EventBuffer is how many notifications can queue for publishers before
// new ones are dropped.
func (c *Instance) EventBuffer() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Watcher.EventBuffer <= 0 {
		return DefaultEventBuffer
	}
	return c.vals.Watcher.EventBuffer
}

// MountWait returns how long to follow storage devices for a late mount.
// Zero means devices are not followed.
func (c *Instance) MountWait() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Watcher.MountWait == nil {
		return DefaultMountWait * time.Second
	}
	if *c.vals.Watcher.MountWait <= 0 {
		return 0
	}
	return time.Duration(*c.vals.Watcher.MountWait) * time.Second
}
