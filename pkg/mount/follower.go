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

package mount

import (
	"context"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultFollowTimeout is how long a device is followed for a late
	// mount.
	DefaultFollowTimeout = 30 * time.Second
	// rescans catch mounts on hosts whose change source misses events
	rescanInterval = time.Second
)

// ChangeSource signals that the set of mounted volumes may have changed.
// Signals carry no detail and may be coalesced.
type ChangeSource interface {
	Changes() <-chan struct{}
	Close() error
}

// PathResolver maps a BSD name to its mount path.
type PathResolver interface {
	Resolve(bsdName string) (string, bool)
}

type FollowerOptions struct {
	// Source wakes the follower early. Without one the follower only
	// rescans on an interval.
	Source ChangeSource
	Clock  clockwork.Clock
	// OnMounted is called from the follower goroutine.
	OnMounted func(bsdName, path string)
	Timeout   time.Duration
}

// Follower watches block devices that had no mounted volume when they
// attached. Desktop automounters usually mount a volume a moment after the
// device appears, so each followed device is resolved again whenever the
// mounts change, until it resolves or its timeout passes.
type Follower struct {
	resolver  PathResolver
	source    ChangeSource
	clock     clockwork.Clock
	onMounted func(bsdName, path string)
	pending   map[string]time.Time
	timeout   time.Duration
	mu        syncutil.Mutex
}

func NewFollower(resolver PathResolver, opts FollowerOptions) *Follower {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFollowTimeout
	}
	return &Follower{
		resolver:  resolver,
		source:    opts.Source,
		clock:     opts.Clock,
		onMounted: opts.OnMounted,
		timeout:   opts.Timeout,
		pending:   make(map[string]time.Time),
	}
}

// Track follows bsdName, restarting its timeout if it is already followed.
func (f *Follower) Track(bsdName string) {
	if bsdName == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[bsdName] = f.clock.Now().Add(f.timeout)
	log.Debug().Str("bsd_name", bsdName).Msg("following device for late mount")
}

// Forget stops following bsdName.
func (f *Follower) Forget(bsdName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, bsdName)
}

// following returns how many devices are being followed.
func (f *Follower) following() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Run resolves followed devices until ctx is done, then closes the change
// source.
func (f *Follower) Run(ctx context.Context) {
	ticker := f.clock.NewTicker(rescanInterval)
	defer ticker.Stop()

	var changes <-chan struct{}
	if f.source != nil {
		changes = f.source.Changes()
		defer func() {
			if err := f.source.Close(); err != nil {
				log.Debug().Err(err).Msg("error closing mount change source")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			f.check()
		case <-ticker.Chan():
			f.check()
		}
	}
}

func (f *Follower) check() {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	names := make([]string, 0, len(f.pending))
	for name := range f.pending {
		names = append(names, name)
	}
	f.mu.Unlock()

	now := f.clock.Now()
	for _, name := range names {
		path, ok := f.resolver.Resolve(name)

		f.mu.Lock()
		deadline, followed := f.pending[name]
		switch {
		case !followed:
			f.mu.Unlock()
			continue
		case ok:
			delete(f.pending, name)
		case now.After(deadline):
			delete(f.pending, name)
			f.mu.Unlock()
			log.Debug().Str("bsd_name", name).Msg("gave up waiting for device mount")
			continue
		default:
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()

		log.Info().Str("bsd_name", name).Str("path", path).Msg("device volume mounted late")
		if f.onMounted != nil {
			f.onMounted(name, path)
		}
	}
}

// changeSignal is a coalescing ChangeSource channel.
type changeSignal chan struct{}

func newChangeSignal() changeSignal {
	return make(changeSignal, 1)
}

func (c changeSignal) notify() {
	select {
	case c <- struct{}{}:
	default:
	}
}
