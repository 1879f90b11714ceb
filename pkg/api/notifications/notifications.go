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

package notifications

import (
	"encoding/json"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/rs/zerolog/log"
)

// sendNotification never blocks. A full channel drops the notification so a
// slow publisher cannot stall the watcher loop.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	log.Debug().Msgf("sending notification: %s", method)

	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msgf("error marshalling notification params: %s", method)
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Msgf("notification channel full, dropping: %s", method)
	}
}

func DevicesAdded(ns chan<- models.Notification, payload models.DeviceResponse) {
	sendNotification(ns, models.NotificationDevicesAdded, payload)
}

func DevicesRemoved(ns chan<- models.Notification, payload models.DeviceResponse) {
	sendNotification(ns, models.NotificationDevicesRemoved, payload)
}

func DevicesMounted(ns chan<- models.Notification, payload models.MountResponse) {
	sendNotification(ns, models.NotificationDevicesMounted, payload)
}
