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

// Package helpers provides in-memory test doubles for the device registry
// and disk arbitration layers.
//
// MemoryRegistry holds Node trees that tests attach and detach to simulate
// hot-plug events. MemoryArbiter maps BSD names to volume paths and counts
// the sessions it opens so tests can check session discipline.
//
// Example usage:
//
//	reg := helpers.NewMemoryRegistry()
//	arb := helpers.NewMemoryArbiter()
//	disk := helpers.NewStorageDevice("Flash", "disk4", "disk4s1")
//	reg.Attach(disk)
//	arb.Mount("disk4s1", "/Volumes/FLASH")
//	defer func() { require.Zero(t, reg.Refs().Outstanding()) }()
package helpers

import (
	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbwatch/pkg/mount"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
)

// MemoryRegistry is a registry.Registry over in-memory Node trees. Every
// entry it hands out is counted by Refs.
type MemoryRegistry struct {
	findErr error
	refs    *registry.RefCounter
	roots   []*registry.Node
	ports   []*registry.LocalPort
	mu      syncutil.Mutex
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{refs: &registry.RefCounter{}}
}

// Refs returns the counter tracking outstanding entry references.
func (r *MemoryRegistry) Refs() *registry.RefCounter {
	return r.refs
}

// FailFind makes every FindMatching call return err.
func (r *MemoryRegistry) FailFind(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findErr = err
}

// Attach adds a tree and publishes a Matched notification for every node in
// it, on every open port.
func (r *MemoryRegistry) Attach(root *registry.Node) {
	root.Track(r.refs)

	var ports []*registry.LocalPort
	syncutil.WithLock(&r.mu, func() {
		r.roots = append(r.roots, root)
		ports = append(ports, r.ports...)
	})

	root.Walk(func(n *registry.Node) {
		for _, p := range ports {
			p.Publish(registry.Matched, n)
		}
	})
}

// Detach removes a tree attached earlier and publishes a Terminated
// notification for every node in it.
func (r *MemoryRegistry) Detach(root *registry.Node) {
	var ports []*registry.LocalPort
	syncutil.WithLock(&r.mu, func() {
		for i, n := range r.roots {
			if n == root {
				r.roots = append(r.roots[:i], r.roots[i+1:]...)
				break
			}
		}
		ports = append(ports, r.ports...)
	})

	root.Walk(func(n *registry.Node) {
		for _, p := range ports {
			p.Publish(registry.Terminated, n)
		}
	})
}

func (r *MemoryRegistry) FindMatching(m registry.Matcher) (registry.Iterator, error) {
	r.mu.Lock()
	err := r.findErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	nodes := r.matching(m)
	entries := make([]registry.Entry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, n.Ref())
	}
	return registry.NewSliceIterator(entries), nil
}

func (r *MemoryRegistry) NewPort() (registry.Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var port *registry.LocalPort
	port = registry.NewLocalPort(r.matching, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, p := range r.ports {
			if p == port {
				r.ports = append(r.ports[:i], r.ports[i+1:]...)
				break
			}
		}
		return nil
	})
	r.ports = append(r.ports, port)
	return port, nil
}

// Ports returns the number of ports that have not been closed.
func (r *MemoryRegistry) Ports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports)
}

// Subscriptions returns the number of live subscriptions across all ports.
func (r *MemoryRegistry) Subscriptions() int {
	r.mu.Lock()
	ports := append([]*registry.LocalPort(nil), r.ports...)
	r.mu.Unlock()

	n := 0
	for _, p := range ports {
		n += p.Subscriptions()
	}
	return n
}

func (r *MemoryRegistry) matching(m registry.Matcher) []*registry.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*registry.Node
	for _, root := range r.roots {
		root.Walk(func(n *registry.Node) {
			if m.Matches(n) {
				out = append(out, n)
			}
		})
	}
	return out
}

// NewUSBDevice builds a USB device node with the identity properties the
// metadata extractor reads.
func NewUSBDevice(name, vendor string, vendorID int, product string, productID int, serial string) *registry.Node {
	n := registry.NewNode(name, registry.ClassUSBDevice, nil)
	if vendor != "" {
		n.Set(registry.KeyVendorName, vendor)
	}
	if vendorID != 0 {
		n.Set(registry.KeyVendorID, vendorID)
	}
	if product != "" {
		n.Set(registry.KeyProductName, product)
	}
	if productID != 0 {
		n.Set(registry.KeyProductID, productID)
	}
	if serial != "" {
		n.Set(registry.KeySerialNumber, serial)
	}
	return n
}

// NewStorageDevice builds a USB mass storage device with one SCSI interface,
// a whole disk media node named disk and one partition child per name in
// partitions.
func NewStorageDevice(name, disk string, partitions ...string) *registry.Node {
	dev := NewUSBDevice(name, "Generic", 0x0781, name, 0x5567, "4C530001")
	iface := dev.AddChild(registry.NewNode("IOUSBMassStorageInterface", registry.ClassUSBInterface, map[string]any{
		registry.KeyInterfaceClass:    registry.InterfaceClassMassStorage,
		registry.KeyInterfaceSubClass: registry.MassStorageSubClassSCSI,
	}))
	iface.AddChild(newMedia(name+" Media", disk, partitions))
	return dev
}

// NewMassStorageDevice builds a USB mass storage device whose interface has
// no disk yet. Use AttachMedia to add one later.
func NewMassStorageDevice(name string) *registry.Node {
	dev := NewUSBDevice(name, "Generic", 0x0781, name, 0x5567, "4C530001")
	dev.AddChild(registry.NewNode("IOUSBMassStorageInterface", registry.ClassUSBInterface, map[string]any{
		registry.KeyInterfaceClass:    registry.InterfaceClassMassStorage,
		registry.KeyInterfaceSubClass: registry.MassStorageSubClassSCSI,
	}))
	return dev
}

func newMedia(name, disk string, partitions []string) *registry.Node {
	media := registry.NewNode(name, registry.ClassMedia, map[string]any{
		registry.KeyBSDName: disk,
	})
	for _, p := range partitions {
		media.AddChild(registry.NewNode(p, registry.ClassMedia, map[string]any{
			registry.KeyBSDName: p,
		}))
	}
	return media
}

// AttachMedia adds a disk with its partitions below the first interface of
// an attached mass storage device and publishes a Matched notification for
// each new media node, the way a disk shows up once the host has probed a
// stick that was already reported.
func (r *MemoryRegistry) AttachMedia(dev *registry.Node, disk string, partitions ...string) {
	media := newMedia(disk, disk, partitions)

	var ports []*registry.LocalPort
	syncutil.WithLock(&r.mu, func() {
		parent := dev
		if ifaces := dev.Nodes(); len(ifaces) > 0 {
			parent = ifaces[0]
		}
		parent.AddChild(media)
		media.Track(r.refs)
		ports = append(ports, r.ports...)
	})

	media.Walk(func(n *registry.Node) {
		for _, p := range ports {
			p.Publish(registry.Matched, n)
		}
	})
}

// MemoryArbiter is a mount.Arbiter backed by a BSD name to path map.
type MemoryArbiter struct {
	openErr error
	volumes map[string]string
	opened  int
	closed  int
	mu      syncutil.Mutex
}

// NewMemoryArbiter creates an arbiter with nothing mounted.
func NewMemoryArbiter() *MemoryArbiter {
	return &MemoryArbiter{volumes: make(map[string]string)}
}

// Mount records bsdName as mounted at path.
func (a *MemoryArbiter) Mount(bsdName, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volumes[bsdName] = path
}

// Unmount forgets bsdName.
func (a *MemoryArbiter) Unmount(bsdName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.volumes, bsdName)
}

// FailOpen makes OpenSession return err until cleared with nil.
func (a *MemoryArbiter) FailOpen(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openErr = err
}

// Sessions returns how many sessions were opened and closed.
func (a *MemoryArbiter) Sessions() (opened, closed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opened, a.closed
}

// OpenSession returns a session over a copy of the current volumes.
func (a *MemoryArbiter) OpenSession() (mount.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return nil, a.openErr
	}
	a.opened++
	volumes := make(map[string]string, len(a.volumes))
	for k, v := range a.volumes {
		volumes[k] = v
	}
	return &MemorySession{arbiter: a, volumes: volumes}, nil
}

// MemorySession is a snapshot of a MemoryArbiter's volumes.
type MemorySession struct {
	arbiter *MemoryArbiter
	volumes map[string]string
}

func (s *MemorySession) VolumePath(bsdName string) (string, bool) {
	path, ok := s.volumes[bsdName]
	return path, ok && path != ""
}

func (s *MemorySession) Close() error {
	s.arbiter.mu.Lock()
	defer s.arbiter.mu.Unlock()
	s.arbiter.closed++
	return nil
}
