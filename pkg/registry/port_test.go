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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPort_MatchedIsArmedWithExisting(t *testing.T) {
	t.Parallel()

	refs := &RefCounter{}
	present := NewNode("Keyboard", ClassUSBDevice, nil)
	present.Track(refs)

	port := NewLocalPort(func(m Matcher) []*Node {
		if m.Matches(present) {
			return []*Node{present}
		}
		return nil
	}, nil)

	arrivals, err := port.AddNotification(Matched, ServiceMatching(ClassUSBDevice))
	require.NoError(t, err)
	removals, err := port.AddNotification(Terminated, ServiceMatching(ClassUSBDevice))
	require.NoError(t, err)

	var names []string
	Drain(arrivals, func(e Entry) {
		name, _ := e.Name()
		names = append(names, name)
	})
	assert.Equal(t, []string{"Keyboard"}, names)
	assert.Zero(t, Drain(removals, func(Entry) {}), "termination subscriptions start empty")
	assert.Zero(t, refs.Outstanding())
}

func TestLocalPort_PublishRoutesByKindAndPredicate(t *testing.T) {
	t.Parallel()

	port := NewLocalPort(nil, nil)
	devices, err := port.AddNotification(Terminated, ServiceMatching(ClassUSBDevice))
	require.NoError(t, err)
	media, err := port.AddNotification(Terminated, ServiceMatching(ClassMedia))
	require.NoError(t, err)

	n := NewNode("Mouse", ClassUSBDevice, nil)
	assert.Equal(t, 1, port.Publish(Terminated, n))
	assert.Equal(t, 0, port.Publish(Matched, n))

	select {
	case <-devices.Ready():
	default:
		t.Fatal("device subscription was not signalled")
	}
	select {
	case <-media.Ready():
		t.Fatal("media subscription should not be signalled")
	default:
	}

	e, ok := devices.Next()
	require.True(t, ok)
	e.Release()
	_, ok = devices.Next()
	assert.False(t, ok)
}

func TestLocalPort_InvalidPredicate(t *testing.T) {
	t.Parallel()

	port := NewLocalPort(nil, nil)
	_, err := port.AddNotification(Matched, Matcher{})
	require.ErrorIs(t, err, ErrEmptyMatcher)
}

func TestLocalPort_CloseOnce(t *testing.T) {
	t.Parallel()

	closes := 0
	port := NewLocalPort(nil, func() error {
		closes++
		return nil
	})

	sub, err := port.AddNotification(Matched, ServiceMatching(ClassUSBDevice))
	require.NoError(t, err)
	sub.Close()
	assert.Equal(t, 0, port.Subscriptions())

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
	assert.Equal(t, 1, closes)
	assert.True(t, port.Closed())

	_, err = port.AddNotification(Matched, ServiceMatching(ClassUSBDevice))
	require.ErrorIs(t, err, ErrPortClosed)
	assert.Zero(t, port.Publish(Matched, NewNode("late", ClassUSBDevice, nil)))
}

func TestNode_PathAndMissingValues(t *testing.T) {
	t.Parallel()

	root := NewNode("Root", "IORegistryEntry", nil)
	child := root.AddChild(NewNode("Child", "", nil))

	path, err := child.Path()
	require.NoError(t, err)
	assert.Equal(t, "IOService:/Root/Child", path)

	_, err = child.Class()
	require.ErrorIs(t, err, ErrNoProperty)
	_, err = NewNode("", ClassUSBDevice, nil).Name()
	require.ErrorIs(t, err, ErrNoProperty)

	root.SetPath("/sys/devices/usb1")
	path, err = child.Path()
	require.NoError(t, err)
	assert.Equal(t, "/sys/devices/usb1/Child", path)
}

func TestSliceIterator_CloseReleasesRemainder(t *testing.T) {
	t.Parallel()

	refs := &RefCounter{}
	root := NewNode("root", "x", nil)
	root.AddChild(NewNode("a", "x", nil))
	root.AddChild(NewNode("b", "x", nil))
	root.AddChild(NewNode("c", "x", nil))
	root.Track(refs)

	it := root.Children()
	assert.Equal(t, int64(3), refs.Outstanding())

	first, ok := it.Next()
	require.True(t, ok)
	first.Release()
	it.Close()

	assert.Zero(t, refs.Outstanding())
}
