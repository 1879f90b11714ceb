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

import "math"

// SearchOption controls how far a property search walks from its origin.
type SearchOption uint8

const (
	// SearchRecursive continues past the origin entry. Without
	// SearchParents the walk descends into children depth first.
	SearchRecursive SearchOption = 1 << iota
	// SearchParents turns a recursive walk upward, through ancestors.
	SearchParents
)

// maxSearchDepth bounds a walk in case a backend reports a cycle.
const maxSearchDepth = 64

// Searcher is implemented by entries whose backend can search the registry
// natively. Search prefers it over walking Parent and Children.
type Searcher interface {
	SearchProperty(key string, opts SearchOption) (any, bool)
}

// Search looks key up on e and, depending on opts, on its descendants or
// ancestors. The first hit wins. A missing property is reported as false,
// never as an error.
func Search(e Entry, key string, opts SearchOption) (any, bool) {
	if s, ok := e.(Searcher); ok {
		return s.SearchProperty(key, opts)
	}

	if v, ok := e.Property(key); ok {
		return v, true
	}
	if opts&SearchRecursive == 0 {
		return nil, false
	}
	if opts&SearchParents != 0 {
		return searchParents(e, key)
	}
	return searchChildren(e, key, 0)
}

func searchParents(e Entry, key string) (any, bool) {
	current, ok := e.Parent()
	for depth := 0; ok && depth < maxSearchDepth; depth++ {
		if v, found := current.Property(key); found {
			current.Release()
			return v, true
		}
		next, more := current.Parent()
		current.Release()
		current, ok = next, more
	}
	if ok {
		current.Release()
	}
	return nil, false
}

func searchChildren(e Entry, key string, depth int) (any, bool) {
	if depth >= maxSearchDepth {
		return nil, false
	}

	children := e.Children()
	defer children.Close()

	for {
		child, ok := children.Next()
		if !ok {
			return nil, false
		}
		v, found := child.Property(key)
		if !found {
			v, found = searchChildren(child, key, depth+1)
		}
		child.Release()
		if found {
			return v, true
		}
	}
}

// SearchString is Search for string-valued properties. Byte slices are
// accepted as strings; any other type counts as absent.
func SearchString(e Entry, key string, opts SearchOption) (string, bool) {
	v, ok := Search(e, key, opts)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// SearchNumber is Search for numeric properties. Values that do not fit a
// signed 32-bit integer count as absent, matching how registry numbers are
// read as SInt32.
func SearchNumber(e Entry, key string, opts SearchOption) (int32, bool) {
	v, ok := Search(e, key, opts)
	if !ok {
		return 0, false
	}
	n, ok := toInt64(v)
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return int32(n), true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
