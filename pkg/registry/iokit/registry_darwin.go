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

//go:build darwin && cgo

package iokit

/*
#include <stdlib.h>
#include "bridge_darwin.h"
*/
import "C" //nolint:gocritic // cgo requires separate import block

import (
	"fmt"
	"unsafe" //nolint:gocritic // required for C.free

	"github.com/ZaparooProject/usbwatch/pkg/registry"
)

// Registry queries the IOKit service plane.
type Registry struct{}

// New returns the IOKit registry.
func New() *Registry {
	return &Registry{}
}

func (*Registry) FindMatching(m registry.Matcher) (registry.Iterator, error) {
	dict, err := matchingDict(m)
	if err != nil {
		return nil, err
	}
	var it C.io_iterator_t
	// consumes dict
	if kr := C.usbwatch_get_matching(dict, &it); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("IOServiceGetMatchingServices %s failed: 0x%x", m, uint32(kr))
	}
	return &iterator{obj: it}, nil
}

type iterator struct {
	obj C.io_iterator_t
}

func (it *iterator) Next() (registry.Entry, bool) {
	if it.obj == 0 {
		return nil, false
	}
	o := C.IOIteratorNext(it.obj)
	if o == 0 {
		return nil, false
	}
	return &entry{obj: o}, true
}

func (it *iterator) Close() {
	if it.obj != 0 {
		C.IOObjectRelease(it.obj)
		it.obj = 0
	}
}

// entry owns one reference to an IOKit registry object.
type entry struct {
	obj C.io_registry_entry_t
}

func (e *entry) Name() (string, error) {
	if s, ok := goString(C.usbwatch_name(e.obj)); ok {
		return s, nil
	}
	return "", registry.ErrNoProperty
}

func (e *entry) Path() (string, error) {
	if s, ok := goString(C.usbwatch_path(e.obj)); ok {
		return s, nil
	}
	return "", registry.ErrNoProperty
}

func (e *entry) Class() (string, error) {
	if s, ok := goString(C.usbwatch_class(e.obj)); ok {
		return s, nil
	}
	return "", registry.ErrNoProperty
}

func (e *entry) Property(key string) (any, bool) {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	return convert(C.usbwatch_property(e.obj, ck))
}

// SearchProperty uses IORegistryEntrySearchCFProperty, which implements
// the same own-then-recursive walk registry.Search does for other backends.
func (e *entry) SearchProperty(key string, opts registry.SearchOption) (any, bool) {
	var bits C.IOOptionBits
	if opts&registry.SearchRecursive != 0 {
		bits |= C.kIORegistryIterateRecursively
	}
	if opts&registry.SearchParents != 0 {
		bits |= C.kIORegistryIterateParents
	}
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	return convert(C.usbwatch_search(e.obj, ck, bits))
}

func (e *entry) Parent() (registry.Entry, bool) {
	p := C.usbwatch_parent(e.obj)
	if p == 0 {
		return nil, false
	}
	return &entry{obj: p}, true
}

func (e *entry) Children() registry.Iterator {
	return &iterator{obj: C.usbwatch_children(e.obj)}
}

func (e *entry) Release() {
	if e.obj != 0 {
		C.IOObjectRelease(e.obj)
		e.obj = 0
	}
}
