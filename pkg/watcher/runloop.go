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

package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

var (
	// ErrLoopFinished is returned when Run is called on a loop that already ran.
	ErrLoopFinished = errors.New("run loop already finished")
	// ErrNotRunning is returned when Run is given a dispatcher that was
	// never started.
	ErrNotRunning = errors.New("dispatcher is not running")
)

// RunLoop pumps a running Dispatcher's subscriptions on the calling
// goroutine until a stop is requested.
type RunLoop struct {
	port       registry.Port
	dispatcher *Dispatcher
	stop       chan struct{}
	stopOnce   sync.Once
	ran        atomic.Bool
}

// NewRunLoop binds a loop to a port and the dispatcher subscribed on it.
func NewRunLoop(port registry.Port, d *Dispatcher) *RunLoop {
	return &RunLoop{
		port:       port,
		dispatcher: d,
		stop:       make(chan struct{}),
	}
}

// Run blocks until RequestStop is called or ctx is cancelled. A batch that
// has started draining always finishes before the stop is observed. When Run
// returns, the dispatcher is stopped and the port is closed.
func (l *RunLoop) Run(ctx context.Context) error {
	if !l.ran.CompareAndSwap(false, true) {
		return ErrLoopFinished
	}
	defer l.teardown()

	if l.dispatcher.State() != Running {
		return ErrNotRunning
	}

	arrivals, removals := l.dispatcher.arrivals, l.dispatcher.removals
	var storageReady <-chan struct{}
	if l.dispatcher.storage != nil {
		storageReady = l.dispatcher.storage.Ready()
	}
	for {
		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-arrivals.Ready():
			l.dispatcher.Drain(arrivals, true)
		case <-removals.Ready():
			l.dispatcher.Drain(removals, false)
		case <-storageReady:
			l.dispatcher.DrainStorage(l.dispatcher.storage)
		}
	}
}

// RequestStop asks Run to return. It is safe to call from any goroutine, any
// number of times, before or during Run.
func (l *RunLoop) RequestStop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *RunLoop) teardown() {
	l.dispatcher.Stop()
	if err := l.port.Close(); err != nil {
		log.Error().Err(err).Msg("error closing notification port")
	}
}
