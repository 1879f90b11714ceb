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
	DefaultAPIListen  = "localhost:7498"
	APIRequestTimeout = 30 * time.Second
)

// API configures the local HTTP and WebSocket server. It is off unless
// enabled.
type API struct {
	Listen  string `toml:"listen,omitempty"`
	Enabled bool   `toml:"enabled"`
}

func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.Enabled
}

func (c *Instance) SetAPIEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.API.Enabled = enabled
}

// APIListen is the address the API server listens on.
func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Listen == "" {
		return DefaultAPIListen
	}
	return c.vals.API.Listen
}

func (c *Instance) SetAPIListen(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.API.Listen = addr
}
