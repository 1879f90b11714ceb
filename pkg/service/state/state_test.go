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

package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func stick(path string) models.DeviceResponse {
	return models.DeviceResponse{
		DeviceName:       "Cruzer Blade",
		DeviceSystemPath: path,
		VendorID:         "1921",
		ProductID:        "21863",
		SerialNumber:     "4C530001",
	}
}

func TestAddAndList(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.AddDevice(models.DeviceResponse{DeviceName: "Keyboard", DeviceSystemPath: "/sys/devices/usb1/1-2"}, "")
	s.AddDevice(stick("disk4"), "/Volumes/CRUZER")

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "/sys/devices/usb1/1-2", devices[0].DeviceSystemPath)
	assert.Equal(t, "disk4", devices[1].DeviceSystemPath)
	assert.Equal(t, "/Volumes/CRUZER", devices[1].MountPath)
	assert.Empty(t, devices[0].MountPath)
}

func TestRemoveDevice_ByPath(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.AddDevice(stick("disk4"), "")
	assert.True(t, s.RemoveDevice(stick("disk4")))
	assert.Zero(t, s.Len())
	assert.False(t, s.RemoveDevice(stick("disk4")))
}

func TestRemoveDevice_ByIdentity(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.AddDevice(stick("disk4"), "")

	// storage gone before the removal was extracted
	assert.True(t, s.RemoveDevice(stick("IOService:/AppleUSB/Cruzer Blade@14100000")))
	assert.Zero(t, s.Len())
}

func TestSetMount(t *testing.T) {
	t.Parallel()

	s := NewState()
	assert.False(t, s.SetMount("sdb", "/media/x"), "unknown device")

	s.AddDevice(stick("sdb"), "")
	assert.True(t, s.SetMount("sdb", "/run/media/user/STICK"))
	assert.Equal(t, "/run/media/user/STICK", s.Devices()[0].MountPath)

	assert.True(t, s.SetMount("sdb", ""))
	assert.Empty(t, s.Devices()[0].MountPath)
}

func TestUpdateDevice_StorageAppears(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.AddDevice(stick("/sys/devices/pci0000:00/0000:00:14.0/usb1/1-2"), "")
	s.AddDevice(models.DeviceResponse{DeviceName: "Keyboard", DeviceSystemPath: "/sys/devices/kbd"}, "")

	s.UpdateDevice(stick("sdb"), "/media/user/CRUZER")

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "/sys/devices/kbd", devices[0].DeviceSystemPath)
	assert.Equal(t, "sdb", devices[1].DeviceSystemPath)
	assert.Equal(t, "/media/user/CRUZER", devices[1].MountPath)

	assert.True(t, s.SetMount("sdb", ""), "later mounts find the disk by BSD name")
	assert.True(t, s.RemoveDevice(stick("sdb")))
	assert.Equal(t, 1, s.Len())
}

func TestUpdateDevice_Untracked(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.UpdateDevice(stick("sdc"), "")
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewState()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("sd%c", 'a'+i)
			s.AddDevice(stick(path), "")
			s.SetMount(path, "/media/"+path)
			_ = s.Devices()
			s.RemoveDevice(stick(path))
		}()
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}

func TestDevicesSortedAndUnique(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		paths := rapid.SliceOf(rapid.StringMatching(`sd[a-f]`)).Draw(t, "paths")

		s := NewState()
		unique := make(map[string]bool)
		for _, p := range paths {
			s.AddDevice(models.DeviceResponse{DeviceSystemPath: p, DeviceName: p}, "")
			unique[p] = true
		}

		devices := s.Devices()
		if len(devices) != len(unique) {
			t.Fatalf("got %d devices, want %d", len(devices), len(unique))
		}
		for i := 1; i < len(devices); i++ {
			if devices[i-1].DeviceSystemPath >= devices[i].DeviceSystemPath {
				t.Fatalf("devices not sorted: %v", devices)
			}
		}
	})
}
