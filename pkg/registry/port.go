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

package registry

import (
	"fmt"

	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
)

// LocalPort is a Port for backends that learn about registry changes in
// process and hold entries as Node snapshots. The backend calls Publish for
// each change; LocalPort routes it to every subscription whose kind and
// predicate match.
type LocalPort struct {
	existing func(Matcher) []*Node
	subs     map[*localSubscription]struct{}
	onClose  func() error
	mu       syncutil.Mutex
	closed   bool
}

// NewLocalPort creates a port. existing lists the nodes already present for
// a predicate and arms new Matched subscriptions; onClose runs once when the
// port is destroyed. Both may be nil.
func NewLocalPort(existing func(Matcher) []*Node, onClose func() error) *LocalPort {
	return &LocalPort{
		existing: existing,
		onClose:  onClose,
		subs:     make(map[*localSubscription]struct{}),
	}
}

func (p *LocalPort) AddNotification(kind NotificationKind, m Matcher) (Subscription, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s predicate: %w", kind, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPortClosed
	}

	sub := &localSubscription{
		port:    p,
		kind:    kind,
		matcher: m,
		ready:   make(chan struct{}, 1),
	}
	if kind == Matched && p.existing != nil {
		sub.queue = append(sub.queue, p.existing(m)...)
	}
	p.subs[sub] = struct{}{}

	return sub, nil
}

// Publish routes a registry change to matching subscriptions and reports how
// many received it.
func (p *LocalPort) Publish(kind NotificationKind, n *Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	delivered := 0
	for sub := range p.subs {
		if sub.kind != kind || !sub.matcher.Matches(n) {
			continue
		}
		sub.push(n)
		delivered++
	}
	return delivered
}

// Subscriptions returns the number of live subscriptions.
func (p *LocalPort) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Closed reports whether Close has run.
func (p *LocalPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *LocalPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for sub := range p.subs {
		sub.detach()
	}
	clear(p.subs)
	p.mu.Unlock()

	if p.onClose != nil {
		return p.onClose()
	}
	return nil
}

func (p *LocalPort) remove(sub *localSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, sub)
}

type localSubscription struct {
	port    *LocalPort
	ready   chan struct{}
	matcher Matcher
	queue   []*Node
	kind    NotificationKind
	mu      syncutil.Mutex
	closed  bool
}

func (s *localSubscription) push(n *Node) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, n)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *localSubscription) Ready() <-chan struct{} {
	return s.ready
}

func (s *localSubscription) Next() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	n := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return n.Ref(), true
}

func (s *localSubscription) Close() {
	s.detach()
	s.port.remove(s)
}

func (s *localSubscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
}
