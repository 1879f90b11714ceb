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

// Package iokit is the macOS device registry backend, backed by the IOKit
// registry and IOKit matching notifications.
package iokit

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation
#include <stdlib.h>
#include "bridge_darwin.h"
*/
import "C" //nolint:gocritic // cgo requires separate import block

import (
	"fmt"
	"unsafe" //nolint:gocritic // required for C.free

	"github.com/ZaparooProject/usbwatch/pkg/registry"
)

func goString(s *C.char) (string, bool) {
	if s == nil {
		return "", false
	}
	defer C.free(unsafe.Pointer(s))
	return C.GoString(s), true
}

// convert copies a CoreFoundation property into a Go value and releases it.
func convert(v C.CFTypeRef) (any, bool) {
	if v == 0 {
		return nil, false
	}
	defer C.usbwatch_release(v)

	switch C.usbwatch_kind(v) {
	case C.USBWATCH_KIND_STRING:
		s, ok := goString(C.usbwatch_string_value(v))
		return s, ok
	case C.USBWATCH_KIND_NUMBER:
		var n C.int64_t
		if C.usbwatch_number_value(v, &n) == 0 {
			return nil, false
		}
		return int64(n), true
	case C.USBWATCH_KIND_DATA:
		var n C.CFIndex
		p := C.usbwatch_data_value(v, &n)
		if p == nil {
			return []byte{}, true
		}
		return C.GoBytes(p, C.int(n)), true
	case C.USBWATCH_KIND_BOOL:
		return C.usbwatch_bool_value(v) != 0, true
	default:
		return nil, false
	}
}

// matchingDict builds an IOKit matching dictionary. The caller passes
// ownership to an IOKit call that consumes it.
func matchingDict(m registry.Matcher) (C.CFMutableDictionaryRef, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	var cls, bsd *C.char
	if m.Class != "" {
		cls = C.CString(m.Class)
		defer C.free(unsafe.Pointer(cls))
	}
	if m.BSDName != "" {
		bsd = C.CString(m.BSDName)
		defer C.free(unsafe.Pointer(bsd))
	}

	dict := C.usbwatch_matching(cls, bsd)
	if dict == 0 {
		return 0, fmt.Errorf("failed to create matching dictionary for %s", m)
	}

	for k, v := range m.Properties {
		ck := C.CString(k)
		switch val := v.(type) {
		case string:
			cv := C.CString(val)
			C.usbwatch_dict_set_str(dict, ck, cv)
			C.free(unsafe.Pointer(cv))
		case int:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		case int32:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		case int64:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		case uint8:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		case uint16:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		case uint32:
			C.usbwatch_dict_set_int(dict, ck, C.int64_t(val))
		default:
			C.free(unsafe.Pointer(ck))
			C.usbwatch_release(C.CFTypeRef(dict))
			return 0, fmt.Errorf("unsupported matching value %T for %q", v, k)
		}
		C.free(unsafe.Pointer(ck))
	}

	return dict, nil
}
