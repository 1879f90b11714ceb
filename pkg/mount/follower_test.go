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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	changes chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{changes: make(chan struct{}), closed: make(chan struct{})}
}

func (s *fakeSource) Changes() <-chan struct{} { return s.changes }

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type switchResolver struct {
	paths map[string]string
	mu    sync.Mutex
}

func (r *switchResolver) set(bsd, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[bsd] = path
}

func (r *switchResolver) Resolve(bsd string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[bsd]
	return p, ok
}

type mounted struct {
	bsd  string
	path string
}

func startFollower(
	t *testing.T,
	res PathResolver,
	src ChangeSource,
	clock clockwork.Clock,
) (*Follower, chan mounted) {
	t.Helper()

	got := make(chan mounted, 4)
	f := NewFollower(res, FollowerOptions{
		Source:    src,
		Clock:     clock,
		Timeout:   10 * time.Second,
		OnMounted: func(bsd, path string) { got <- mounted{bsd, path} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f, got
}

func TestFollower_ResolvesOnChange(t *testing.T) {
	t.Parallel()

	res := &switchResolver{paths: map[string]string{}}
	src := newFakeSource()
	clock := clockwork.NewFakeClock()
	f, got := startFollower(t, res, src, clock)

	f.Track("sdb")
	assert.Equal(t, 1, f.following())

	src.changes <- struct{}{}
	assert.Equal(t, 1, f.following(), "still unmounted")

	res.set("sdb", "/run/media/user/STICK")
	src.changes <- struct{}{}

	select {
	case m := <-got:
		assert.Equal(t, mounted{"sdb", "/run/media/user/STICK"}, m)
	case <-time.After(time.Second):
		t.Fatal("no mount reported")
	}
	assert.Zero(t, f.following())
}

func TestFollower_RescansOnInterval(t *testing.T) {
	t.Parallel()

	res := &switchResolver{paths: map[string]string{"disk3": "/Volumes/CARD"}}
	clock := clockwork.NewFakeClock()
	f, got := startFollower(t, res, nil, clock)
	f.Track("disk3")

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(rescanInterval)

	select {
	case m := <-got:
		assert.Equal(t, "/Volumes/CARD", m.path)
	case <-time.After(time.Second):
		t.Fatal("no mount reported")
	}
}

func TestFollower_GivesUpAfterTimeout(t *testing.T) {
	t.Parallel()

	res := &switchResolver{paths: map[string]string{}}
	src := newFakeSource()
	clock := clockwork.NewFakeClock()
	f, got := startFollower(t, res, src, clock)

	f.Track("sdc")
	clock.Advance(11 * time.Second)
	src.changes <- struct{}{}

	require.Eventually(t, func() bool { return f.following() == 0 }, time.Second, 5*time.Millisecond)

	res.set("sdc", "/media/late")
	src.changes <- struct{}{}
	select {
	case m := <-got:
		t.Fatalf("unexpected mount after timeout: %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollower_Forget(t *testing.T) {
	t.Parallel()

	res := &switchResolver{paths: map[string]string{"sdd": "/media/x"}}
	src := newFakeSource()
	f, got := startFollower(t, res, src, clockwork.NewFakeClock())

	f.Track("sdd")
	f.Track("")
	assert.Equal(t, 1, f.following())
	f.Forget("sdd")
	assert.Zero(t, f.following())

	src.changes <- struct{}{}
	select {
	case m := <-got:
		t.Fatalf("forgotten device reported: %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollower_ClosesSource(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	f := NewFollower(&switchResolver{paths: map[string]string{}}, FollowerOptions{Source: src})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	select {
	case <-src.closed:
	default:
		t.Fatal("change source not closed")
	}
}

func TestDirWatcher_SignalsNewVolume(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := NewDirWatcher([]string{root, filepath.Join(root, "missing")}, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.Mkdir(filepath.Join(root, "alice"), 0o750))
	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change for new directory")
	}

	n := 0
	require.Eventually(t, func() bool {
		// the per-user directory is watched once its create event is handled
		n++
		_ = os.Mkdir(filepath.Join(root, "alice", fmt.Sprintf("STICK%d", n)), 0o750)
		select {
		case <-w.Changes():
			return true
		default:
			return false
		}
	}, 2*time.Second, 150*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestDirWatcher_NoDirs(t *testing.T) {
	t.Parallel()

	_, err := NewDirWatcher([]string{filepath.Join(t.TempDir(), "nope")}, false)
	require.ErrorIs(t, err, ErrNoMountDirs)
}
