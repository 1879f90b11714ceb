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

//go:build darwin && cgo

package iokit

/*
#include <stdlib.h>
#include "bridge_darwin.h"
*/
import "C" //nolint:gocritic // cgo requires separate import block

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/usbwatch/pkg/helpers/syncutil"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
)

// Notification callbacks arrive on the port's dispatch queue carrying a
// subscription ID. IDs are looked up rather than dereferenced so a callback
// racing a Close is dropped instead of touching a freed subscription.
var (
	subsMu syncutil.Mutex
	subs   = make(map[uintptr]*subscription)
	nextID uintptr
)

//export usbwatchNotify
func usbwatchNotify(refcon C.uintptr_t) {
	subsMu.Lock()
	sub := subs[uintptr(refcon)]
	subsMu.Unlock()
	if sub != nil {
		sub.signal()
	}
}

func (*Registry) NewPort() (registry.Port, error) {
	p := C.usbwatch_port_create()
	if p == nil {
		return nil, errors.New("failed to create IOKit notification port")
	}
	return &port{p: p, subs: make(map[*subscription]struct{})}, nil
}

// port is an IONotificationPort serviced by its own dispatch queue.
type port struct {
	p      *C.usbwatch_port
	subs   map[*subscription]struct{}
	mu     syncutil.Mutex
	closed bool
}

func (p *port) AddNotification(kind registry.NotificationKind, m registry.Matcher) (registry.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, registry.ErrPortClosed
	}

	dict, err := matchingDict(m)
	if err != nil {
		return nil, fmt.Errorf("invalid %s predicate: %w", kind, err)
	}

	sub := &subscription{port: p, ready: make(chan struct{}, 1)}
	subsMu.Lock()
	nextID++
	sub.id = nextID
	subs[sub.id] = sub
	subsMu.Unlock()

	terminated := C.int(0)
	if kind == registry.Terminated {
		terminated = 1
	}
	var it C.io_iterator_t
	// consumes dict
	kr := C.usbwatch_add_notification(p.p, terminated, dict, C.uintptr_t(sub.id), &it)
	if kr != C.KERN_SUCCESS {
		forget(sub.id)
		return nil, fmt.Errorf("IOServiceAddMatchingNotification %s failed: 0x%x", kind, uint32(kr))
	}
	sub.it = iterator{obj: it}
	p.subs[sub] = struct{}{}

	return sub, nil
}

func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for sub := range p.subs {
		sub.release()
	}
	clear(p.subs)
	C.usbwatch_port_destroy(p.p)
	p.p = nil
	return nil
}

func forget(id uintptr) {
	subsMu.Lock()
	defer subsMu.Unlock()
	delete(subs, id)
}

// subscription is an armed IOKit notification iterator. The iterator must
// be drained after every signal for IOKit to deliver the next batch.
type subscription struct {
	port  *port
	ready chan struct{}
	it    iterator
	id    uintptr
}

func (s *subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *subscription) Ready() <-chan struct{} {
	return s.ready
}

func (s *subscription) Next() (registry.Entry, bool) {
	return s.it.Next()
}

func (s *subscription) Close() {
	s.port.mu.Lock()
	defer s.port.mu.Unlock()
	if _, ok := s.port.subs[s]; !ok {
		return
	}
	delete(s.port.subs, s)
	s.release()
}

func (s *subscription) release() {
	forget(s.id)
	s.it.Close()
}
