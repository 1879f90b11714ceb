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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const dirDebounce = 100 * time.Millisecond

// ErrNoMountDirs is returned when none of the directories given to
// NewDirWatcher could be watched.
var ErrNoMountDirs = errors.New("no mount directories to watch")

// DirWatcher is a ChangeSource that watches the directories volumes are
// mounted under, such as /Volumes. With nested set, directories created
// directly inside a root are watched too, for per-user automount
// directories like /run/media/<user>.
type DirWatcher struct {
	watcher   *fsnotify.Watcher
	changes   changeSignal
	roots     map[string]bool
	done      chan struct{}
	nested    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDirWatcher(dirs []string, nested bool) (*DirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	d := &DirWatcher{
		watcher: watcher,
		changes: newChangeSignal(),
		roots:   make(map[string]bool),
		done:    make(chan struct{}),
		nested:  nested,
	}

	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		if err := watcher.Add(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("not watching mount directory")
			continue
		}
		d.roots[dir] = true
		if nested {
			d.watchChildren(dir)
		}
	}
	if len(d.roots) == 0 {
		_ = watcher.Close()
		return nil, ErrNoMountDirs
	}

	d.wg.Add(1)
	go d.loop()

	return d, nil
}

func (d *DirWatcher) watchChildren(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = d.watcher.Add(filepath.Join(dir, entry.Name()))
		}
	}
}

func (d *DirWatcher) Changes() <-chan struct{} {
	return d.changes
}

func (d *DirWatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.watcher.Close()
		d.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

func (d *DirWatcher) loop() {
	defer d.wg.Done()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if d.nested && event.Has(fsnotify.Create) && d.roots[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = d.watcher.Add(event.Name)
				}
			}
			debounce.Reset(dirDebounce)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error")
		case <-debounce.C:
			d.changes.notify()
		}
	}
}
