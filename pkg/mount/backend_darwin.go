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

const volumesDir = "/Volumes"

func defaultArbiter(ArbiterOptions) Arbiter {
	return NewFSStatArbiter()
}

func platformArbiter(backend string) (Arbiter, bool) {
	if backend == BackendFSStat {
		return NewFSStatArbiter(), true
	}
	return nil, false
}

// NewChangeSource watches /Volumes. Volume directories themselves are not
// watched so the watcher never holds a mounted volume busy.
func NewChangeSource() (ChangeSource, error) {
	w, err := NewDirWatcher([]string{volumesDir}, false)
	if err != nil {
		return nil, err
	}
	return w, nil
}
