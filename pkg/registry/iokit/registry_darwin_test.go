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

import (
	"testing"

	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMatching_RejectsEmptyMatcher(t *testing.T) {
	t.Parallel()

	_, err := New().FindMatching(registry.Matcher{})
	require.ErrorIs(t, err, registry.ErrEmptyMatcher)
}

func TestFindMatching_UnknownClassIsEmpty(t *testing.T) {
	t.Parallel()

	it, err := New().FindMatching(registry.ServiceMatching("UsbwatchNoSuchClass"))
	require.NoError(t, err)
	defer it.Close()
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestFindMatching_UnsupportedValue(t *testing.T) {
	t.Parallel()

	_, err := New().FindMatching(registry.ServiceMatching(registry.ClassUSBDevice).WithProperty("x", 1.5))
	require.Error(t, err)
}

func TestRootEntryAccessors(t *testing.T) {
	t.Parallel()

	it, err := New().FindMatching(registry.ServiceMatching("IOPlatformExpertDevice"))
	require.NoError(t, err)
	defer it.Close()

	e, ok := it.Next()
	if !ok {
		t.Skip("no platform expert in this environment")
	}
	defer e.Release()

	_, err = e.Name()
	require.NoError(t, err)
	path, err := e.Path()
	require.NoError(t, err)
	assert.Contains(t, path, "IOService:/")
	_, ok = e.(registry.Searcher)
	assert.True(t, ok)
}

func TestPort_Lifecycle(t *testing.T) {
	t.Parallel()

	p, err := New().NewPort()
	require.NoError(t, err)

	sub, err := p.AddNotification(registry.Matched, registry.ServiceMatching(registry.ClassUSBDevice))
	require.NoError(t, err)
	registry.Drain(sub, func(registry.Entry) {})
	sub.Close()
	sub.Close()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.AddNotification(registry.Matched, registry.ServiceMatching(registry.ClassUSBDevice))
	require.ErrorIs(t, err, registry.ErrPortClosed)

	// a late callback for a closed subscription is dropped
	usbwatchNotify(0)
}
