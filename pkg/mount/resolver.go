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

// Package mount resolves block device BSD names to the filesystem path they
// are mounted at.
//
// Resolution consults the device registry to find partition children of a
// whole disk, then asks a disk arbitration session for each candidate's
// volume path. Every failure along the way means "no path", never an error.
package mount

import (
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

// Session is an open disk arbitration session. VolumePath reports where the
// named disk's volume is mounted.
type Session interface {
	VolumePath(bsdName string) (string, bool)
	Close() error
}

// Arbiter opens disk arbitration sessions.
type Arbiter interface {
	OpenSession() (Session, error)
}

// Resolver maps BSD names to mount paths.
type Resolver struct {
	reg registry.Registry
	arb Arbiter
}

// NewResolver creates a resolver over a registry and an arbiter.
func NewResolver(reg registry.Registry, arb Arbiter) *Resolver {
	return &Resolver{reg: reg, arb: arb}
}

// Resolve returns the mount path for bsdName.
//
// A whole disk such as "disk1" usually exposes its volumes as child entries
// ("disk1s1"); the children are tried in registry order and the first one
// with a volume path wins, so a disk with several mounted partitions only
// reports one of them. When no child yields a path, including when the disk
// has no partition table, the disk itself is tried.
func (r *Resolver) Resolve(bsdName string) (string, bool) {
	if bsdName == "" {
		return "", false
	}

	session, err := r.arb.OpenSession()
	if err != nil || session == nil {
		log.Debug().Err(err).Str("bsd_name", bsdName).Msg("no disk arbitration session")
		return "", false
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing disk arbitration session")
		}
	}()

	if path, ok := r.resolveChildren(session, bsdName); ok {
		return path, true
	}

	if path, ok := session.VolumePath(bsdName); ok {
		log.Debug().Str("bsd_name", bsdName).Str("path", path).Msg("resolved whole disk volume")
		return path, true
	}

	return "", false
}

func (r *Resolver) resolveChildren(session Session, bsdName string) (string, bool) {
	services, err := r.reg.FindMatching(registry.BSDNameMatching(bsdName))
	if err != nil {
		log.Debug().Err(err).Str("bsd_name", bsdName).Msg("bsd name query failed")
		return "", false
	}
	defer services.Close()

	for {
		service, ok := services.Next()
		if !ok {
			return "", false
		}
		path, found := childVolumePath(session, service)
		service.Release()
		if found {
			return path, true
		}
	}
}

func childVolumePath(session Session, service registry.Entry) (string, bool) {
	children := service.Children()
	defer children.Close()

	for {
		child, ok := children.Next()
		if !ok {
			return "", false
		}
		name, hasName := registry.SearchString(child, registry.KeyBSDName, registry.SearchRecursive)
		child.Release()
		if !hasName || name == "" {
			continue
		}
		if path, found := session.VolumePath(name); found {
			log.Debug().Str("bsd_name", name).Str("path", path).Msg("resolved partition volume")
			return path, true
		}
	}
}
