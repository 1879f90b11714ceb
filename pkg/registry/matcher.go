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

package registry

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Matcher is a matching predicate over registry entries. Class and BSDName
// are compared against the entry itself; every Properties value must equal
// the entry's own property of the same key.
type Matcher struct {
	Properties map[string]any
	Class      string
	BSDName    string
}

// ServiceMatching selects entries of the given registry class.
func ServiceMatching(class string) Matcher {
	return Matcher{Class: class}
}

// BSDNameMatching selects the storage entry published under a BSD name.
func BSDNameMatching(bsdName string) Matcher {
	return Matcher{Class: ClassMedia, BSDName: bsdName}
}

// MassStorageMatching selects USB mass storage interfaces.
//
// The SCSI subclass is always part of the predicate: on macOS a class-only
// interface predicate returns an empty iterator, so scanning by class alone
// finds nothing.
func MassStorageMatching() Matcher {
	return ServiceMatching(ClassUSBInterface).
		WithProperty(KeyInterfaceClass, InterfaceClassMassStorage).
		WithProperty(KeyInterfaceSubClass, MassStorageSubClassSCSI)
}

// WithProperty returns a copy of m that also requires key to equal value.
func (m Matcher) WithProperty(key string, value any) Matcher {
	props := make(map[string]any, len(m.Properties)+1)
	maps.Copy(props, m.Properties)
	props[key] = value
	m.Properties = props
	return m
}

// Validate reports whether the predicate can select anything.
func (m Matcher) Validate() error {
	if m.Class == "" && m.BSDName == "" {
		return ErrEmptyMatcher
	}
	return nil
}

// Matches evaluates the predicate against an entry's own values.
func (m Matcher) Matches(e Entry) bool {
	if m.Class != "" {
		class, err := e.Class()
		if err != nil || class != m.Class {
			return false
		}
	}
	if m.BSDName != "" {
		v, ok := e.Property(KeyBSDName)
		if !ok {
			return false
		}
		if s, ok := v.(string); !ok || s != m.BSDName {
			return false
		}
	}
	for key, want := range m.Properties {
		got, ok := e.Property(key)
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func (m Matcher) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	parts := make([]string, 0, len(m.Properties)+2)
	if m.Class != "" {
		parts = append(parts, "class="+m.Class)
	}
	if m.BSDName != "" {
		parts = append(parts, "bsd="+m.BSDName)
	}
	for _, key := range slices.Sorted(maps.Keys(m.Properties)) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, m.Properties[key]))
	}
	sb.WriteString(strings.Join(parts, " "))
	sb.WriteString("}")
	return sb.String()
}

// valuesEqual compares registry values, treating all integer kinds as the
// same number.
func valuesEqual(a, b any) bool {
	an, aNum := toInt64(a)
	bn, bNum := toInt64(b)
	if aNum || bNum {
		return aNum && bNum && an == bn
	}
	return reflect.DeepEqual(a, b)
}
