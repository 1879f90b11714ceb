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

package service

import (
	"encoding/json"
	"io"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/service/publishers"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// startPublishers connects every enabled MQTT publisher from the config.
// Publishers connect concurrently since each may wait out a connect
// timeout. One that fails to start is logged and left out.
func startPublishers(cfg *config.Instance) []publishers.Publisher {
	confs := cfg.GetMQTTPublishers()
	started := make([]*publishers.MQTTPublisher, len(confs))

	var g errgroup.Group
	for i, c := range confs {
		if c.Enabled != nil && !*c.Enabled {
			continue
		}
		if c.Broker == "" {
			log.Warn().Int("index", i).Msg("mqtt publisher has no broker, skipping")
			continue
		}
		topic := c.Topic
		if topic == "" {
			topic = config.AppName
		}
		g.Go(func() error {
			p := publishers.NewMQTTPublisher(c.Broker, topic, c.Filter)
			if err := p.Start(); err != nil {
				log.Error().Err(err).Str("broker", c.Broker).Msg("failed to start mqtt publisher")
				return nil
			}
			started[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var pubs []publishers.Publisher
	for _, p := range started {
		if p != nil {
			pubs = append(pubs, p)
		}
	}
	if len(pubs) > 0 {
		log.Info().Int("count", len(pubs)).Msg("started mqtt publishers")
	}
	return pubs
}

// publish hands each notification to every publisher until ch closes.
func publish(ch <-chan models.Notification, pubs []publishers.Publisher) {
	for notif := range ch {
		for _, p := range pubs {
			if err := p.Publish(notif); err != nil {
				log.Warn().Err(err).Str("method", notif.Method).Msg("failed to publish notification")
			}
		}
	}
}

type outputLine struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// writeLines writes each notification to w as one JSON object per line
// until ch closes. The first failed write calls detach, and whatever is
// still queued on ch is discarded.
func writeLines(ch <-chan models.Notification, w io.Writer, detach func()) {
	enc := json.NewEncoder(w)
	failed := false
	for notif := range ch {
		if failed {
			continue
		}
		if err := enc.Encode(outputLine{Method: notif.Method, Params: notif.Params}); err != nil {
			log.Error().Err(err).Msg("failed to write notification, detaching output")
			failed = true
			detach()
		}
	}
}
