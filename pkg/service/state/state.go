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

// Package state tracks the USB devices attached to the host while the
// service runs.
package state

import (
	"cmp"
	"slices"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// State holds the attached devices keyed by their system path, which is
// the BSD name for storage devices.
type State struct {
	devices map[string]models.AttachedDeviceResponse
	mu      syncutil.RWMutex
}

func NewState() *State {
	return &State{devices: make(map[string]models.AttachedDeviceResponse)}
}

// AddDevice records an attached device, replacing any device with the same
// system path. mountPath may be empty.
func (s *State) AddDevice(d models.DeviceResponse, mountPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.DeviceSystemPath] = models.AttachedDeviceResponse{
		DeviceResponse: d,
		MountPath:      mountPath,
	}
}

// RemoveDevice forgets a detached device. A removal whose system path is
// unknown is matched on its USB identity instead, since a storage device
// can lose its BSD name before the removal is reported.
func (s *State) RemoveDevice(d models.DeviceResponse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.DeviceSystemPath]; ok {
		delete(s.devices, d.DeviceSystemPath)
		return true
	}
	for key, attached := range s.devices {
		if sameIdentity(attached.DeviceResponse, d) {
			delete(s.devices, key)
			return true
		}
	}
	log.Debug().Str("path", d.DeviceSystemPath).Msg("removed device was not tracked")
	return false
}

// UpdateDevice replaces a tracked device whose system path changed, such
// as a stick whose disk appeared after it was added. The old entry is found
// by USB identity. mountPath may be empty.
func (s *State) UpdateDevice(d models.DeviceResponse, mountPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.DeviceSystemPath]; !ok {
		for key, attached := range s.devices {
			if sameIdentity(attached.DeviceResponse, d) {
				delete(s.devices, key)
				break
			}
		}
	}
	s.devices[d.DeviceSystemPath] = models.AttachedDeviceResponse{
		DeviceResponse: d,
		MountPath:      mountPath,
	}
}

func sameIdentity(a, b models.DeviceResponse) bool {
	return a.DeviceName == b.DeviceName &&
		a.VendorID == b.VendorID &&
		a.ProductID == b.ProductID &&
		a.SerialNumber == b.SerialNumber
}

// SetMount records the mount path of the storage device with BSD name
// bsdName. An empty path clears it.
func (s *State) SetMount(bsdName, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	attached, ok := s.devices[bsdName]
	if !ok {
		return false
	}
	attached.MountPath = path
	s.devices[bsdName] = attached
	return true
}

// Devices returns the attached devices ordered by system path.
func (s *State) Devices() []models.AttachedDeviceResponse {
	s.mu.RLock()
	devices := make([]models.AttachedDeviceResponse, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.RUnlock()

	slices.SortFunc(devices, func(a, b models.AttachedDeviceResponse) int {
		return cmp.Compare(a.DeviceSystemPath, b.DeviceSystemPath)
	})
	return devices
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
