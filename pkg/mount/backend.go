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
	"fmt"

	"github.com/spf13/afero"
)

// Mount backend names accepted in configuration.
const (
	BackendAuto       = "auto"
	BackendUDisks2    = "udisks2"
	BackendMountTable = "mounttable"
	BackendFSStat     = "fsstat"
	BackendPartitions = "partitions"
)

// ArbiterOptions selects and configures a disk arbitration backend.
type ArbiterOptions struct {
	Fs         afero.Fs
	Backend    string
	MountTable string
}

// NewArbiter returns the arbiter named by opts.Backend. An empty backend
// means BackendAuto, which picks the best backend the host supports.
func NewArbiter(opts ArbiterOptions) (Arbiter, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	switch opts.Backend {
	case "", BackendAuto:
		return defaultArbiter(opts), nil
	case BackendMountTable:
		return NewMountTableArbiter(opts.Fs, opts.MountTable), nil
	case BackendPartitions:
		return NewPartitionsArbiter(), nil
	default:
		a, ok := platformArbiter(opts.Backend)
		if !ok {
			return nil, fmt.Errorf("mount backend %q is not supported on this platform", opts.Backend)
		}
		return a, nil
	}
}
