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

//go:build deadlock

// Package syncutil holds the lock types used across the watcher. Building
// with -tags=deadlock swaps them for go-deadlock detectors.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled reports whether lock-order detection is compiled in.
const DeadlockEnabled = true

func init() {
	// Disk arbitration and registry calls run under locks and can be slow
	// on a busy bus, so allow more than the library default.
	deadlock.Opts.DeadlockTimeout = 45 * time.Second
}

// Mutex detects lock-order inversions and long waits.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex detects lock-order inversions and long waits.
type RWMutex struct {
	deadlock.RWMutex
}
