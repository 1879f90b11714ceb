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

package models

// DeviceResponse is the payload of devices.added and devices.removed.
type DeviceResponse struct {
	DeviceName         string `json:"deviceName"`
	DeviceSystemPath   string `json:"deviceSystemPath"`
	Product            string `json:"product"`
	ProductDescription string `json:"productDescription"`
	ProductID          string `json:"productId"`
	SerialNumber       string `json:"serialNumber"`
	Vendor             string `json:"vendor"`
	VendorDescription  string `json:"vendorDescription"`
	VendorID           string `json:"vendorId"`
}

// MountResponse is the payload of devices.mounted. An empty Path means the
// device had no mounted volume. BSDName is set for volumes that mounted
// after their device was reported.
type MountResponse struct {
	BSDName string `json:"bsdName,omitempty"`
	Path    string `json:"path"`
}

// AttachedDeviceResponse is one entry of the devices list.
type AttachedDeviceResponse struct {
	DeviceResponse
	MountPath string `json:"mountPath,omitempty"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}
