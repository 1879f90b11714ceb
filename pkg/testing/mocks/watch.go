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

package mocks

import (
	"github.com/ZaparooProject/usbwatch/pkg/device"
	"github.com/stretchr/testify/mock"
)

// MockCallbacks records watcher callback invocations. Bind its methods into
// watcher.Callbacks.
type MockCallbacks struct {
	mock.Mock
}

func (m *MockCallbacks) Inserted(md device.Metadata) {
	m.Called(md)
}

func (m *MockCallbacks) Removed(md device.Metadata) {
	m.Called(md)
}

func (m *MockCallbacks) Message(path string) {
	m.Called(path)
}

// MockMountResolver is a testify mock of device.MountResolver.
type MockMountResolver struct {
	mock.Mock
}

func (m *MockMountResolver) Resolve(bsdName string) (string, bool) {
	args := m.Called(bsdName)
	return args.String(0), args.Bool(1)
}
