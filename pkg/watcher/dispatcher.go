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

package watcher

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/usbwatch/pkg/device"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

// ErrNotIdle is returned when starting a dispatcher that has already been
// started or stopped.
var ErrNotIdle = errors.New("dispatcher is not idle")

// State is the lifecycle stage of a Dispatcher.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Dispatcher holds the arrival and termination subscriptions for one device
// class and turns every entry they deliver into a callback.
//
// A Dispatcher is driven from a single goroutine and is not safe for
// concurrent use.
type Dispatcher struct {
	extractor *device.Extractor
	onArrival func(device.Metadata)
	onRemoval func(device.Metadata)
	onStorage func(device.Metadata)
	arrivals  registry.Subscription
	removals  registry.Subscription
	storage   registry.Subscription
	// registry path of each reported device to the disk it was resolved
	// with, empty until it has one
	reported map[string]string
	matcher  registry.Matcher
	state    State
}

// NewDispatcher creates an idle dispatcher for entries selected by m. Nil
// callbacks are skipped.
func NewDispatcher(
	x *device.Extractor,
	m registry.Matcher,
	onArrival, onRemoval func(device.Metadata),
) *Dispatcher {
	return &Dispatcher{
		extractor: x,
		matcher:   m,
		onArrival: onArrival,
		onRemoval: onRemoval,
		reported:  make(map[string]string),
	}
}

// SetStorageHandler makes Start also subscribe to block storage arrivals.
// Storage that appears below an already reported device, after that device
// was extracted, causes the device to be extracted again and passed to fn.
func (d *Dispatcher) SetStorageHandler(fn func(device.Metadata)) {
	d.onStorage = fn
}

// Start subscribes to arrivals and drains the devices already present, then
// subscribes to terminations and drains that too. On error the dispatcher
// stays idle and holds no subscriptions.
func (d *Dispatcher) Start(port registry.Port) error {
	if d.state != Idle {
		return fmt.Errorf("%w: %s", ErrNotIdle, d.state)
	}
	if err := d.matcher.Validate(); err != nil {
		return fmt.Errorf("failed to build matching predicate: %w", err)
	}

	arrivals, err := port.AddNotification(registry.Matched, d.matcher)
	if err != nil {
		return fmt.Errorf("failed to register arrival notifications: %w", err)
	}
	n := d.Drain(arrivals, true)
	log.Debug().Int("devices", n).Str("matcher", d.matcher.String()).Msg("initial arrival drain")

	removals, err := port.AddNotification(registry.Terminated, d.matcher)
	if err != nil {
		arrivals.Close()
		return fmt.Errorf("failed to register removal notifications: %w", err)
	}
	d.Drain(removals, false)

	if d.onStorage != nil {
		storage, err := port.AddNotification(registry.Matched, registry.ServiceMatching(registry.ClassMedia))
		if err != nil {
			arrivals.Close()
			removals.Close()
			return fmt.Errorf("failed to register storage notifications: %w", err)
		}
		// storage present now belongs to devices drained above
		registry.Drain(storage, func(registry.Entry) {})
		d.storage = storage
	}

	d.arrivals = arrivals
	d.removals = removals
	d.state = Running
	return nil
}

// Drain consumes it to exhaustion, delivering each entry to the arrival or
// removal callback. Entries without a registry name are logged and skipped.
// Every entry is released once handled.
func (d *Dispatcher) Drain(it registry.Iterator, arrival bool) int {
	deliver := d.onRemoval
	if arrival {
		deliver = d.onArrival
	}

	return registry.Drain(it, func(e registry.Entry) {
		md, err := d.extractor.Extract(e)
		if err != nil {
			log.Warn().Err(err).Bool("arrival", arrival).Msg("skipping device")
			return
		}
		log.Debug().Bool("arrival", arrival).Object("device", md).Msg("device event")
		if path, err := e.Path(); err == nil {
			if arrival {
				disk, _ := registry.SearchString(e, registry.KeyBSDName, registry.SearchRecursive)
				d.reported[path] = disk
			} else {
				delete(d.reported, path)
			}
		}
		if deliver != nil {
			deliver(md)
		}
	})
}

// DrainStorage consumes block storage arrivals. Each whole disk below a
// USB device that was reported without it has its device extracted again,
// which resolves the disk's mount path, and passed to the storage handler.
func (d *Dispatcher) DrainStorage(it registry.Iterator) int {
	return registry.Drain(it, func(e registry.Entry) {
		bsdName, ok := registry.SearchString(e, registry.KeyBSDName, 0)
		if !ok || bsdName == "" {
			return
		}
		dev, ok := usbDeviceOf(e)
		if !ok {
			log.Trace().Str("bsd_name", bsdName).Msg("ignoring storage outside usb devices")
			return
		}
		defer dev.Release()

		// storage seen before its device's arrival is resolved by that
		// arrival
		devPath, err := dev.Path()
		if err != nil {
			return
		}
		if disk, seen := d.reported[devPath]; !seen || disk != "" {
			return
		}

		// partitions are resolved through their disk
		if first, _ := registry.SearchString(dev, registry.KeyBSDName, registry.SearchRecursive); first != bsdName {
			return
		}

		md, err := d.extractor.Extract(dev)
		if err != nil {
			log.Warn().Err(err).Str("bsd_name", bsdName).Msg("skipping storage")
			return
		}
		log.Debug().Str("bsd_name", bsdName).Object("device", md).Msg("device storage attached")
		d.reported[devPath] = bsdName
		if d.onStorage != nil {
			d.onStorage(md)
		}
	})
}

// usbDeviceOf returns the closest USB device above e. The caller owns the
// returned entry.
func usbDeviceOf(e registry.Entry) (registry.Entry, bool) {
	cur, ok := e.Parent()
	for ok {
		if class, err := cur.Class(); err == nil && registry.IsUSBDevice(class) {
			return cur, true
		}
		next, hasNext := cur.Parent()
		cur.Release()
		cur, ok = next, hasNext
	}
	return nil, false
}

// State returns the dispatcher's lifecycle stage.
func (d *Dispatcher) State() State {
	return d.state
}

// Stop closes the subscriptions. It must run before the port that owns
// them is closed. Stopping twice is a no-op.
func (d *Dispatcher) Stop() {
	if d.state == Stopped {
		return
	}
	if d.arrivals != nil {
		d.arrivals.Close()
		d.arrivals = nil
	}
	if d.removals != nil {
		d.removals.Close()
		d.removals = nil
	}
	if d.storage != nil {
		d.storage.Close()
		d.storage = nil
	}
	d.state = Stopped
}
