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
	"strings"
	"sync/atomic"
)

// RefCounter counts outstanding references handed out by Node trees. Tests
// use it to prove every handle was released.
type RefCounter struct {
	n atomic.Int64
}

// Outstanding returns references acquired and not yet released.
func (r *RefCounter) Outstanding() int64 {
	if r == nil {
		return 0
	}
	return r.n.Load()
}

func (r *RefCounter) acquire() {
	if r != nil {
		r.n.Add(1)
	}
}

func (r *RefCounter) release() {
	if r != nil {
		r.n.Add(-1)
	}
}

// Node is an in-memory registry entry. A Node tree is built once and then
// only read, so it can be shared between the backend that produced it and
// the consumers iterating it.
//
// An empty name, path or class is reported as missing by the accessors.
type Node struct {
	props    map[string]any
	refs     *RefCounter
	parent   *Node
	name     string
	path     string
	class    string
	children []*Node
}

// NewNode creates a detached node. props may be nil.
func NewNode(name, class string, props map[string]any) *Node {
	if props == nil {
		props = make(map[string]any)
	}
	return &Node{name: name, class: class, props: props}
}

// AddChild attaches c under n and returns c.
func (n *Node) AddChild(c *Node) *Node {
	c.parent = n
	c.refs = n.refs
	n.children = append(n.children, c)
	return c
}

// SetPath overrides the computed service plane path.
func (n *Node) SetPath(path string) *Node {
	n.path = path
	return n
}

// Set assigns a property and returns n.
func (n *Node) Set(key string, value any) *Node {
	n.props[key] = value
	return n
}

// Track makes every node in the subtree count handouts on refs.
func (n *Node) Track(refs *RefCounter) {
	n.refs = refs
	for _, c := range n.children {
		c.Track(refs)
	}
}

// Ref hands out a counted reference to n.
func (n *Node) Ref() Entry {
	n.refs.acquire()
	return n
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// Nodes returns the direct children of n.
func (n *Node) Nodes() []*Node {
	return n.children
}

func (n *Node) Name() (string, error) {
	if n.name == "" {
		return "", ErrNoProperty
	}
	return n.name, nil
}

func (n *Node) Path() (string, error) {
	if n.path != "" {
		return n.path, nil
	}
	if n.name == "" {
		return "", ErrNoProperty
	}
	names := []string{n.name}
	for p := n.parent; p != nil; p = p.parent {
		if p.path != "" {
			return p.path + "/" + strings.Join(reversed(names), "/"), nil
		}
		names = append(names, p.name)
	}
	return "IOService:/" + strings.Join(reversed(names), "/"), nil
}

func (n *Node) Class() (string, error) {
	if n.class == "" {
		return "", ErrNoProperty
	}
	return n.class, nil
}

func (n *Node) Property(key string) (any, bool) {
	v, ok := n.props[key]
	return v, ok
}

func (n *Node) Parent() (Entry, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent.Ref(), true
}

func (n *Node) Children() Iterator {
	entries := make([]Entry, 0, len(n.children))
	for _, c := range n.children {
		entries = append(entries, c.Ref())
	}
	return NewSliceIterator(entries)
}

func (n *Node) Release() {
	n.refs.release()
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// SliceIterator iterates a fixed list of entries. Entries not consumed by
// Next are released by Close.
type SliceIterator struct {
	entries []Entry
	pos     int
}

// NewSliceIterator takes ownership of entries.
func NewSliceIterator(entries []Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (Entry, bool) {
	if it.pos >= len(it.entries) {
		return nil, false
	}
	e := it.entries[it.pos]
	it.entries[it.pos] = nil
	it.pos++
	return e, true
}

func (it *SliceIterator) Close() {
	for ; it.pos < len(it.entries); it.pos++ {
		it.entries[it.pos].Release()
		it.entries[it.pos] = nil
	}
}
