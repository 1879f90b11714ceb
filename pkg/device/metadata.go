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

// Package device turns registry entries into the metadata records delivered
// to arrival and removal callbacks.
package device

import "github.com/rs/zerolog"

// Metadata describes one USB device at the time of a single notification.
// Every field is best effort and empty when the registry does not hold the
// value.
//
// Product and ProductDescription always hold the same string, as do Vendor
// and VendorDescription. Both are kept for consumers that read either one.
type Metadata struct {
	// DeviceName is the registry name of the device.
	DeviceName string `json:"deviceName"`
	// DeviceSystemPath is the registry path, or the BSD name of the
	// device's block storage when it has one.
	DeviceSystemPath   string `json:"deviceSystemPath"`
	Product            string `json:"product"`
	ProductDescription string `json:"productDescription"`
	// ProductID is the decimal USB product ID.
	ProductID         string `json:"productId"`
	SerialNumber      string `json:"serialNumber"`
	Vendor            string `json:"vendor"`
	VendorDescription string `json:"vendorDescription"`
	// VendorID is the decimal USB vendor ID.
	VendorID string `json:"vendorId"`
}

// MarshalZerologObject logs the identifying fields of m.
func (m Metadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", m.DeviceName).
		Str("path", m.DeviceSystemPath).
		Str("vendor_id", m.VendorID).
		Str("product_id", m.ProductID)
	if m.SerialNumber != "" {
		e.Str("serial", m.SerialNumber)
	}
}
