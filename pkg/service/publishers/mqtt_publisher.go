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

package publishers

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrPublishTimeout = errors.New("timed out publishing to MQTT broker")
)

// Publisher sends notifications somewhere outside the process.
type Publisher interface {
	Publish(notif models.Notification) error
	Stop()
}

// MQTTPublisher forwards device notifications to an MQTT broker. Each
// notification goes to <topic>/<method> with the JSON params as payload.
type MQTTPublisher struct {
	client   mqtt.Client
	broker   string
	topic    string
	filter   []string
	mu       syncutil.Mutex
	stopOnce sync.Once
}

// NewMQTTPublisher creates a publisher for broker and topic. An empty filter
// publishes every notification, otherwise only the listed methods.
func NewMQTTPublisher(broker, topic string, filter []string) *MQTTPublisher {
	return &MQTTPublisher{
		broker: broker,
		topic:  topic,
		filter: filter,
	}
}

// Start connects to the broker. A broker that is unreachable within the
// connect timeout keeps being retried in the background.
func (p *MQTTPublisher) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + p.broker)
	opts.SetClientID("usbwatch-publisher-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Msgf("mqtt publisher: still connecting to %s", p.broker)
	} else if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

// Publish sends notif unless the filter excludes it.
func (p *MQTTPublisher) Publish(notif models.Notification) error {
	if !p.matchesFilter(notif.Method) {
		return nil
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotStarted
	}

	payload := []byte(notif.Params)
	if payload == nil {
		payload = []byte("null")
	}

	token := client.Publish(p.topic+"/"+notif.Method, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", notif.Method, err)
	}

	log.Debug().Msgf("mqtt publisher: published %s notification", notif.Method)
	return nil
}

// Stop disconnects from the broker. Safe to call more than once.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		client := p.client
		p.mu.Unlock()

		if client != nil && client.IsConnected() {
			log.Debug().Msg("mqtt publisher: disconnecting")
			client.Disconnect(disconnectQuiesce)
		}
	})
}

func (p *MQTTPublisher) matchesFilter(method string) bool {
	if len(p.filter) == 0 {
		return true
	}
	return slices.Contains(p.filter, method)
}
