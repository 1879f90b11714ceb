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

//go:build linux

package mount

import "github.com/rs/zerolog/log"

// automount parents used by udisks2 and older desktop automounters
var linuxMountDirs = []string{"/run/media", "/media", "/mnt"}

func defaultArbiter(opts ArbiterOptions) Arbiter {
	if UDisks2Available() {
		log.Info().Msg("using udisks2 for mount resolution")
		return NewUDisks2Arbiter()
	}
	log.Info().Str("path", opts.MountTable).Msg("udisks2 unavailable, using mount table")
	return NewMountTableArbiter(opts.Fs, opts.MountTable)
}

func platformArbiter(backend string) (Arbiter, bool) {
	if backend == BackendUDisks2 {
		return NewUDisks2Arbiter(), true
	}
	return nil, false
}

// NewChangeSource returns the best mount change source for the host:
// UDisks2 signals when the daemon is running, otherwise a watch on the
// automount directories.
func NewChangeSource() (ChangeSource, error) {
	if UDisks2Available() {
		src, err := NewUDisks2Changes()
		if err == nil {
			return src, nil
		}
		log.Warn().Err(err).Msg("udisks2 signals unavailable, watching mount directories")
	}
	w, err := NewDirWatcher(linuxMountDirs, true)
	if err != nil {
		return nil, err
	}
	return w, nil
}
