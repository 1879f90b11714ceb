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

// Package sysfs is the Linux device registry backend. Queries snapshot the
// sysfs device tree into registry nodes and notifications come from kernel
// uevents on the kobject netlink socket.
package sysfs

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/mdlayher/kobject"
	"github.com/rs/zerolog/log"
)

// DefaultRoot is where sysfs is mounted.
const DefaultRoot = "/sys"

const maxReceiveErrors = 10

// EventSource delivers kernel uevents. *kobject.Client satisfies it.
type EventSource interface {
	Receive() (*kobject.Event, error)
	Close() error
}

// Registry is a registry.Registry over sysfs.
type Registry struct {
	source func() (EventSource, error)
	refs   *registry.RefCounter
	// snapshots of attached devices keyed by uevent device path, so
	// removals still carry the metadata the device had while attached
	cache map[string]*registry.Node
	root  string
	mu    syncutil.Mutex
}

// New creates a registry rooted at root that listens on the kernel uevent
// socket. An empty root means DefaultRoot.
func New(root string) *Registry {
	return NewWithSource(root, func() (EventSource, error) {
		c, err := kobject.New()
		if err != nil {
			return nil, fmt.Errorf("failed to open kobject netlink socket: %w", err)
		}
		return c, nil
	})
}

// NewWithSource creates a registry that reads uevents from sources made by
// source.
func NewWithSource(root string, source func() (EventSource, error)) *Registry {
	if root == "" {
		root = DefaultRoot
	}
	return &Registry{
		root:   filepath.Clean(root),
		source: source,
		refs:   &registry.RefCounter{},
		cache:  make(map[string]*registry.Node),
	}
}

// Refs returns the counter tracking outstanding entry references.
func (r *Registry) Refs() *registry.RefCounter {
	return r.refs
}

func (r *Registry) FindMatching(m registry.Matcher) (registry.Iterator, error) {
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

func (r *Registry) matching(m registry.Matcher) []*registry.Node {
	if m.BSDName != "" {
		n, ok := r.blockNode(m.BSDName)
		if !ok || !m.Matches(n) {
			return nil
		}
		return []*registry.Node{n}
	}

	var out []*registry.Node
	for _, dev := range r.devices() {
		dev.Walk(func(n *registry.Node) {
			if m.Matches(n) {
				out = append(out, n)
			}
		})
	}
	return out
}

// NewPort opens a uevent source and starts routing USB device events to the
// port's subscriptions. Closing the port closes the source.
func (r *Registry) NewPort() (registry.Port, error) {
	src, err := r.source()
	if err != nil {
		return nil, err
	}

	port := registry.NewLocalPort(r.existing, src.Close)
	go r.pump(src, port)

	return port, nil
}

// existing arms new arrival subscriptions and seeds the removal cache.
func (r *Registry) existing(m registry.Matcher) []*registry.Node {
	nodes := r.matching(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		if c, _ := n.Class(); c != registry.ClassUSBDevice {
			continue
		}
		if path, err := n.Path(); err == nil {
			r.cache[r.devicePath(path)] = n
		}
	}
	return nodes
}

func (r *Registry) pump(src EventSource, port *registry.LocalPort) {
	failures := 0
	for {
		ev, err := src.Receive()
		if err != nil {
			if port.Closed() {
				return
			}
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("failed to receive uevent")
			if failures >= maxReceiveErrors {
				log.Error().Msg("giving up on uevent socket")
				return
			}
			continue
		}
		failures = 0
		r.handle(port, ev)
	}
}

func (r *Registry) handle(port *registry.LocalPort, ev *kobject.Event) {
	if ev == nil {
		return
	}

	if ev.Subsystem == "block" && ev.Action == kobject.Add {
		if node, ok := r.refresh(ev.DevicePath); ok {
			publishStorage(port, node)
		}
		return
	}
	if ev.Subsystem != "usb" || ev.Values["DEVTYPE"] != "usb_device" {
		return
	}

	switch ev.Action {
	case kobject.Add:
		dir := filepath.Join(r.root, ev.DevicePath)
		node, err := r.deviceTree(dir)
		if err != nil {
			log.Debug().Err(err).Str("devpath", ev.DevicePath).Msg("device gone before snapshot")
			node = r.eventNode(ev)
		}
		r.mu.Lock()
		r.cache[ev.DevicePath] = node
		r.mu.Unlock()
		publishTree(port, registry.Matched, node)
	case kobject.Remove:
		r.mu.Lock()
		node, ok := r.cache[ev.DevicePath]
		delete(r.cache, ev.DevicePath)
		r.mu.Unlock()
		if !ok {
			node = r.eventNode(ev)
		}
		publishTree(port, registry.Terminated, node)
	default:
		log.Trace().Str("action", string(ev.Action)).Str("devpath", ev.DevicePath).Msg("ignoring uevent")
	}
}

// refresh re-snapshots the attached device that owns a newly added block
// device so its removal reports the BSD name. It returns the new snapshot.
func (r *Registry) refresh(blockPath string) (*registry.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for devpath := range r.cache {
		if !strings.HasPrefix(blockPath, devpath+"/") {
			continue
		}
		node, err := r.deviceTree(filepath.Join(r.root, devpath))
		if err != nil {
			log.Debug().Err(err).Str("devpath", devpath).Msg("device gone before refresh")
			return nil, false
		}
		r.cache[devpath] = node
		log.Debug().Str("devpath", devpath).Str("block", blockPath).Msg("refreshed device snapshot")
		return node, true
	}
	return nil, false
}

// publishStorage announces the block devices of a refreshed device. Its
// arrival was published before the kernel had registered them.
func publishStorage(port *registry.LocalPort, dev *registry.Node) {
	dev.Walk(func(n *registry.Node) {
		if c, _ := n.Class(); c == registry.ClassMedia {
			port.Publish(registry.Matched, n)
		}
	})
}

// eventNode builds a device node from uevent variables alone. PRODUCT is
// "vendor/product/bcdDevice" in hex.
func (r *Registry) eventNode(ev *kobject.Event) *registry.Node {
	props := make(map[string]any)
	parts := strings.Split(ev.Values["PRODUCT"], "/")
	if len(parts) >= 2 {
		if v, err := strconv.ParseUint(parts[0], 16, 16); err == nil {
			props[registry.KeyVendorID] = int(v)
		}
		if v, err := strconv.ParseUint(parts[1], 16, 16); err == nil {
			props[registry.KeyProductID] = int(v)
		}
	}
	n := registry.NewNode(filepath.Base(ev.DevicePath), registry.ClassUSBDevice, props).
		SetPath(filepath.Join(r.root, ev.DevicePath))
	n.Track(r.refs)
	return n
}

// devicePath maps an absolute sysfs directory back to a uevent device path.
func (r *Registry) devicePath(dir string) string {
	return "/" + strings.TrimPrefix(strings.TrimPrefix(dir, r.root), "/")
}

func publishTree(port *registry.LocalPort, kind registry.NotificationKind, root *registry.Node) {
	root.Walk(func(n *registry.Node) {
		port.Publish(kind, n)
	})
}
