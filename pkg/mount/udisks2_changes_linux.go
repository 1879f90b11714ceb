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

package mount

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	udisks2Root           = "/org/freedesktop/UDisks2"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"
	dbusProperties        = "org.freedesktop.DBus.Properties"
	signalInterfacesAdded = dbusObjectManager + ".InterfacesAdded"
	signalPropsChanged    = dbusProperties + ".PropertiesChanged"
)

// UDisks2Changes is a ChangeSource fed by UDisks2 D-Bus signals. A new
// filesystem object or a change to any filesystem's properties, which
// includes its mount points, counts as a change.
type UDisks2Changes struct {
	conn      *dbus.Conn
	signals   chan *dbus.Signal
	changes   changeSignal
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewUDisks2Changes() (*UDisks2Changes, error) {
	conn, err := openPrivateSystemBus()
	if err != nil {
		return nil, err
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(udisks2Root),
			dbus.WithMatchInterface(dbusObjectManager),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchPathNamespace(dbus.ObjectPath(udisks2Root)),
			dbus.WithMatchInterface(dbusProperties),
			dbus.WithMatchMember("PropertiesChanged"),
		},
	}
	for _, opts := range matches {
		if err := conn.AddMatchSignal(opts...); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to add udisks2 signal match: %w", err)
		}
	}

	c := &UDisks2Changes{
		conn:    conn,
		signals: make(chan *dbus.Signal, 10),
		changes: newChangeSignal(),
		done:    make(chan struct{}),
	}
	conn.Signal(c.signals)

	c.wg.Add(1)
	go c.listen()

	return c, nil
}

func (c *UDisks2Changes) Changes() <-chan struct{} {
	return c.changes
}

func (c *UDisks2Changes) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.RemoveSignal(c.signals)
		err = c.conn.Close()
		c.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to close D-Bus connection: %w", err)
	}
	return nil
}

func (c *UDisks2Changes) listen() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok || sig == nil {
				return
			}
			if isFilesystemChange(sig) {
				c.changes.notify()
			}
		}
	}
}

func isFilesystemChange(sig *dbus.Signal) bool {
	switch sig.Name {
	case signalInterfacesAdded:
		if len(sig.Body) < 2 {
			return false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return false
		}
		_, hasFS := ifaces[udisks2FSInterface]
		return hasFS
	case signalPropsChanged:
		if len(sig.Body) < 1 {
			return false
		}
		iface, ok := sig.Body[0].(string)
		return ok && iface == udisks2FSInterface
	default:
		log.Debug().Str("signal", sig.Name).Msg("ignoring udisks2 signal")
		return false
	}
}
