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

package device

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

// ErrUnknownDevice is returned when an entry has no registry name. Such an
// entry cannot be reported and is skipped.
var ErrUnknownDevice = errors.New("unknown device")

// MountResolver maps a BSD name to the path its volume is mounted at.
type MountResolver interface {
	Resolve(bsdName string) (string, bool)
}

// Extractor reads Metadata out of registry entries.
type Extractor struct {
	mounts      MountResolver
	onMountPath func(string)
	onUnmounted func(string)
}

// NewExtractor creates an extractor. When an entry has block storage whose
// mount path resolves, the path is passed to onMountPath. Either argument may
// be nil.
func NewExtractor(mounts MountResolver, onMountPath func(string)) *Extractor {
	return &Extractor{mounts: mounts, onMountPath: onMountPath}
}

// SetUnmountedHook registers fn to receive the BSD name of block storage
// that has no mounted volume yet.
func (x *Extractor) SetUnmountedHook(fn func(bsdName string)) {
	x.onUnmounted = fn
}

// Extract builds a new Metadata value for e. Only a missing registry name is
// an error; every other missing property leaves its field empty.
func (x *Extractor) Extract(e registry.Entry) (Metadata, error) {
	var md Metadata

	name, err := e.Name()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrUnknownDevice, err)
	}
	md.DeviceName = name

	if class, err := e.Class(); err == nil {
		log.Debug().Str("name", name).Str("class", class).Msg("extracting device metadata")
	}

	if path, err := e.Path(); err == nil {
		md.DeviceSystemPath = path
	}

	if bsdName, ok := registry.SearchString(e, registry.KeyBSDName, registry.SearchRecursive); ok && bsdName != "" {
		md.DeviceSystemPath = bsdName
		x.resolveMount(bsdName)
	}

	const ancestry = registry.SearchRecursive | registry.SearchParents

	if vendor, ok := registry.SearchString(e, registry.KeyVendorName, ancestry); ok {
		md.Vendor = vendor
		md.VendorDescription = vendor
	}
	if id, ok := registry.SearchNumber(e, registry.KeyVendorID, ancestry); ok {
		md.VendorID = strconv.FormatInt(int64(id), 10)
	}
	if product, ok := registry.SearchString(e, registry.KeyProductName, ancestry); ok {
		md.Product = product
		md.ProductDescription = product
	}
	if id, ok := registry.SearchNumber(e, registry.KeyProductID, ancestry); ok {
		md.ProductID = strconv.FormatInt(int64(id), 10)
	}
	if serial, ok := registry.SearchString(e, registry.KeySerialNumber, ancestry); ok {
		md.SerialNumber = serial
	}

	return md, nil
}

func (x *Extractor) resolveMount(bsdName string) {
	if x.mounts == nil {
		return
	}
	path, ok := x.mounts.Resolve(bsdName)
	if !ok {
		if x.onUnmounted != nil {
			x.onUnmounted(bsdName)
		}
		return
	}
	log.Debug().Str("bsd_name", bsdName).Str("path", path).Msg("device volume mounted")
	if x.onMountPath != nil {
		x.onMountPath(path)
	}
}
