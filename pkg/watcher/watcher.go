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

// Package watcher reports USB devices as they are attached to and detached
// from the host.
//
// A Watcher subscribes to the device registry for USB device arrivals and
// terminations, extracts metadata for each device and hands it to the
// caller's callbacks. Devices already attached when the watcher starts are
// reported as arrivals. All callbacks run on the goroutine that called Run,
// one at a time.
package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/usbwatch/pkg/device"
	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbwatch/pkg/mount"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("watcher already run")

// Callbacks receive watcher events. Any of them may be nil.
type Callbacks struct {
	// Inserted is called with each attached device.
	Inserted func(device.Metadata)
	// Removed is called with each detached device.
	Removed func(device.Metadata)
	// Message is called with a mount path when an attached device's
	// volume is found, and by ScanMassStorage.
	Message func(string)
	// Unmounted is called with the BSD name of a device's block storage
	// when it has no mounted volume. It fires for removals too, just
	// before Removed.
	Unmounted func(string)
	// Changed is called with an attached device again when its block
	// storage appears after it was reported, as when the kernel finishes
	// probing a stick. Its DeviceSystemPath is now the BSD name, and Message
	// or Unmounted has fired for the storage just before.
	Changed func(device.Metadata)
}

// Watcher drives USB device notifications for one process run.
type Watcher struct {
	reg      registry.Registry
	resolver *mount.Resolver
	loop     *RunLoop
	cb       Callbacks
	mu       syncutil.Mutex
	started  bool
	stopped  bool
}

// New creates a watcher over a device registry and a disk arbiter.
func New(reg registry.Registry, arb mount.Arbiter, cb Callbacks) *Watcher {
	return &Watcher{
		reg:      reg,
		resolver: mount.NewResolver(reg, arb),
		cb:       cb,
	}
}

// Run reports the devices currently attached, then blocks delivering
// further arrivals and removals until RequestStop is called or ctx is
// cancelled. A failure to subscribe is returned before any waiting starts.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyRun
	}
	w.started = true
	w.mu.Unlock()

	port, err := w.reg.NewPort()
	if err != nil {
		return fmt.Errorf("failed to create notification port: %w", err)
	}

	x := device.NewExtractor(w.resolver, w.cb.Message)
	x.SetUnmountedHook(w.cb.Unmounted)
	d := NewDispatcher(x, registry.ServiceMatching(registry.ClassUSBDevice), w.cb.Inserted, w.cb.Removed)
	d.SetStorageHandler(func(md device.Metadata) {
		if w.cb.Changed != nil {
			w.cb.Changed(md)
		}
	})
	if err := d.Start(port); err != nil {
		if cerr := port.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing notification port")
		}
		return fmt.Errorf("failed to start watching devices: %w", err)
	}

	loop := NewRunLoop(port, d)
	w.mu.Lock()
	w.loop = loop
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		loop.RequestStop()
	}

	log.Info().Msg("watching for usb devices")
	err = loop.Run(ctx)
	log.Info().Msg("stopped watching for usb devices")
	return err
}

// RequestStop asks Run to return after the batch in progress. Calling it
// before Run makes Run return right after reporting the attached devices.
func (w *Watcher) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.loop != nil {
		w.loop.RequestStop()
	}
}

// ScanMassStorage looks for a USB mass storage interface whose block device
// is bsdName and sends its mount path to the Message callback. An empty
// message is sent when there is no such device or it has no mounted volume.
func (w *Watcher) ScanMassStorage(bsdName string) {
	path, _ := w.findMassStorage(bsdName)
	if w.cb.Message != nil {
		w.cb.Message(path)
	}
}

func (w *Watcher) findMassStorage(bsdName string) (string, bool) {
	it, err := w.reg.FindMatching(registry.MassStorageMatching())
	if err != nil {
		log.Warn().Err(err).Msg("mass storage query failed")
		return "", false
	}
	defer it.Close()

	for {
		iface, ok := it.Next()
		if !ok {
			return "", false
		}
		name, hasName := registry.SearchString(iface, registry.KeyBSDName, registry.SearchRecursive)
		iface.Release()
		if !hasName || name != bsdName {
			continue
		}
		return w.resolver.Resolve(name)
	}
}
