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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2BlockDevices   = "/org/freedesktop/UDisks2/block_devices/"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusPropertiesGet     = "org.freedesktop.DBus.Properties.Get"
	udisks2ProbeTimeout   = 3 * time.Second
	udisks2RequestTimeout = 5 * time.Second
)

// UDisks2Arbiter asks the UDisks2 daemon where block devices are mounted.
// Each session owns a private system bus connection.
type UDisks2Arbiter struct{}

// NewUDisks2Arbiter creates a UDisks2 backed arbiter.
func NewUDisks2Arbiter() *UDisks2Arbiter {
	return &UDisks2Arbiter{}
}

func (*UDisks2Arbiter) OpenSession() (Session, error) {
	conn, err := openPrivateSystemBus()
	if err != nil {
		return nil, err
	}
	return &udisks2Session{conn: conn}, nil
}

func openPrivateSystemBus() (*dbus.Conn, error) {
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to authenticate with system D-Bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to complete D-Bus hello: %w", err)
	}
	return conn, nil
}

type udisks2Session struct {
	conn *dbus.Conn
}

func (s *udisks2Session) VolumePath(bsdName string) (string, bool) {
	if s.conn == nil || bsdName == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), udisks2RequestTimeout)
	defer cancel()

	obj := s.conn.Object(udisks2Service, udisks2ObjectPath(bsdName))
	var v dbus.Variant
	err := obj.CallWithContext(ctx, dbusPropertiesGet, 0, udisks2FSInterface, "MountPoints").Store(&v)
	if err != nil {
		// Block devices without a filesystem interface land here too.
		log.Debug().Err(err).Str("bsd_name", bsdName).Msg("no udisks2 mount points")
		return "", false
	}

	mountPoints, ok := v.Value().([][]byte)
	if !ok {
		return "", false
	}
	for _, mp := range mountPoints {
		path := strings.TrimRight(string(mp), "\x00")
		if path != "" {
			return path, true
		}
	}
	return "", false
}

func (s *udisks2Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close D-Bus connection: %w", err)
	}
	return nil
}

// udisks2ObjectPath maps a kernel block device name to its UDisks2 object
// path. Bytes outside [A-Za-z0-9] are written as _xx hex, the way UDisks2
// escapes object path components.
func udisks2ObjectPath(bsdName string) dbus.ObjectPath {
	var sb strings.Builder
	sb.WriteString(udisks2BlockDevices)
	for i := 0; i < len(bsdName); i++ {
		c := bsdName[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			sb.WriteByte(c)
			continue
		}
		_, _ = fmt.Fprintf(&sb, "_%02x", c)
	}
	return dbus.ObjectPath(sb.String())
}

// UDisks2Available reports whether the system bus is reachable and the
// UDisks2 service is registered on it.
func UDisks2Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), udisks2ProbeTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		conn, err := openPrivateSystemBus()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		var names []string
		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
			done <- false
			return
		}
		for _, name := range names {
			if name == udisks2Service {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}
