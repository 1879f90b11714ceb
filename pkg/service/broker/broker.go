/*
Zaparoo USB Watch
Copyright (c) 2026 The Zaparoo Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of Zaparoo USB Watch.

Zaparoo USB Watch is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Zaparoo USB Watch is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Zaparoo USB Watch.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package broker fans device notifications out to several consumers
// without letting a slow consumer hold up the others.
package broker

import (
	"context"
	"slices"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	ch      chan models.Notification
	methods []string
	dropped int
}

func (s *subscriber) wants(method string) bool {
	return len(s.methods) == 0 || slices.Contains(s.methods, method)
}

// Broker copies each notification from a source channel to every
// subscriber that wants its method. Sends never block; a subscriber with a
// full buffer misses the notification.
type Broker struct {
	ctx         context.Context
	source      <-chan models.Notification
	subscribers map[int]*subscriber
	done        chan struct{}
	mu          syncutil.RWMutex
	nextID      int
}

func NewBroker(ctx context.Context, source <-chan models.Notification) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]*subscriber),
		done:        make(chan struct{}),
	}
}

// Start runs the broadcast loop until the source closes or the context is
// cancelled. Every subscriber channel is closed on the way out.
func (b *Broker) Start() {
	go func() {
		defer close(b.done)
		for {
			select {
			case notif, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					b.closeAllSubscribers()
					return
				}
				b.broadcast(notif)
			case <-b.ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				b.closeAllSubscribers()
				return
			}
		}
	}()
}

// Done is closed once the broadcast loop has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) broadcast(notif models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if !sub.wants(notif.Method) {
			continue
		}
		select {
		case sub.ch <- notif:
		default:
			sub.dropped++
			log.Warn().
				Int("subscriber_id", id).
				Str("method", notif.Method).
				Msg("subscriber channel full, dropping notification")
		}
	}
}

// Subscribe registers a consumer of the given methods, or of every method
// when none are given. bufferSize notifications can queue before drops.
func (b *Broker) Subscribe(bufferSize int, methods ...string) (notifChan <-chan models.Notification, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	sub := &subscriber{
		ch:      make(chan models.Notification, bufferSize),
		methods: methods,
	}
	b.subscribers[id] = sub

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Strs("methods", methods).
		Msg("new subscriber registered")

	return sub.ch, id
}

// Dropped is how many notifications subscriber id has missed.
func (b *Broker) Dropped(id int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[id]; ok {
		return sub.dropped
	}
	return 0
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

func (b *Broker) closeAllSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.ch)
		if sub.dropped > 0 {
			log.Info().Int("subscriber_id", id).Int("dropped", sub.dropped).
				Msg("subscriber missed notifications")
		}
	}
	clear(b.subscribers)
}
