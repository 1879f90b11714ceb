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

// Package registry models the operating system's device registry: a tree of
// attached hardware and service nodes that can be queried with matching
// predicates and subscribed to for arrival and termination notifications.
//
// Platform backends live in subpackages (iokit on macOS, sysfs on Linux).
// Everything handed out by a Registry is owned by the caller: entries must be
// released and iterators closed, exactly once.
package registry

import "errors"

// Registry plane property keys.
const (
	KeyBSDName           = "BSD Name"
	KeyVendorName        = "USB Vendor Name"
	KeyVendorID          = "idVendor"
	KeyProductName       = "USB Product Name"
	KeyProductID         = "idProduct"
	KeySerialNumber      = "USB Serial Number"
	KeyInterfaceClass    = "bInterfaceClass"
	KeyInterfaceSubClass = "bInterfaceSubClass"
)

// Registry class names.
const (
	ClassUSBDevice     = "IOUSBDevice"
	// ClassUSBHostDevice is what macOS 10.11 and later report for USB
	// devices that match ClassUSBDevice.
	ClassUSBHostDevice = "IOUSBHostDevice"
	ClassUSBInterface  = "IOUSBInterface"
	ClassMedia         = "IOMedia"
)

// IsUSBDevice reports whether class names a USB device node.
func IsUSBDevice(class string) bool {
	return class == ClassUSBDevice || class == ClassUSBHostDevice
}

// USB interface class codes used when scanning for mass storage.
const (
	InterfaceClassMassStorage = 0x08
	MassStorageSubClassSCSI   = 0x06
)

var (
	// ErrEmptyMatcher is returned for a matching predicate that has neither
	// a class nor a BSD name to match on.
	ErrEmptyMatcher = errors.New("matcher has no class or bsd name")
	// ErrPortClosed is returned when subscribing on a destroyed port.
	ErrPortClosed = errors.New("notification port closed")
	// ErrNoProperty is returned by Entry accessors when the registry does
	// not hold the requested value.
	ErrNoProperty = errors.New("registry property not found")
)

// Entry is an opaque reference into the device registry. Every Entry obtained
// from an Iterator, Parent or Children is owned by the caller and must be
// released with Release.
type Entry interface {
	// Name returns the registry name of the entry.
	Name() (string, error)
	// Path returns the service plane path of the entry.
	Path() (string, error)
	// Class returns the registry class name of the entry.
	Class() (string, error)
	// Property returns a property held by this entry only.
	Property(key string) (any, bool)
	// Parent returns the entry's parent in the service plane.
	Parent() (Entry, bool)
	// Children returns an iterator over the entry's direct children.
	Children() Iterator
	// Release drops the caller's reference.
	Release()
}

// Iterator walks a set of entries until exhaustion.
type Iterator interface {
	Next() (Entry, bool)
	Close()
}

// Registry is the query surface of a device registry backend.
type Registry interface {
	// FindMatching returns an iterator over entries currently matching m.
	// An empty iterator is not an error.
	FindMatching(m Matcher) (Iterator, error)
	// NewPort creates a notification port. A port is created once per
	// process run and closed once at shutdown.
	NewPort() (Port, error)
}

// NotificationKind selects which registry events a subscription receives.
type NotificationKind int

const (
	// Matched delivers entries as they appear in the registry.
	Matched NotificationKind = iota
	// Terminated delivers entries as they are removed from the registry.
	Terminated
)

func (k NotificationKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Port owns notification subscriptions.
type Port interface {
	// AddNotification registers interest in kind events for entries that
	// satisfy m. A Matched subscription is armed with the entries that
	// already exist, so draining it immediately yields the current devices.
	AddNotification(kind NotificationKind, m Matcher) (Subscription, error)
	// Close destroys the port. Subscriptions must be closed first.
	Close() error
}

// Subscription is an armed notification iterator. Ready receives a value
// whenever a batch is pending; the batch is consumed by calling Next until
// it reports false. Close tears the subscription down.
type Subscription interface {
	Iterator
	Ready() <-chan struct{}
}

// Drain calls fn for every entry left in it and releases each entry after fn
// returns. It returns the number of entries visited.
func Drain(it Iterator, fn func(Entry)) int {
	n := 0
	for {
		e, ok := it.Next()
		if !ok {
			return n
		}
		n++
		func() {
			defer e.Release()
			fn(e)
		}()
	}
}
