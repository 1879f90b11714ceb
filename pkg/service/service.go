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

// Package service runs the USB watcher as a long lived process, turning
// watcher callbacks into notifications for the MQTT publishers, the API
// server and an optional JSON lines stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/api"
	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/api/notifications"
	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/device"
	"github.com/ZaparooProject/usbwatch/pkg/mount"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/ZaparooProject/usbwatch/pkg/service/broker"
	"github.com/ZaparooProject/usbwatch/pkg/service/publishers"
	"github.com/ZaparooProject/usbwatch/pkg/service/state"
	"github.com/ZaparooProject/usbwatch/pkg/watcher"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedPlatform is returned when no device registry exists for
// the host platform.
var ErrUnsupportedPlatform = errors.New("usb device watching is not supported on this platform")

// Options overrides the parts of the service that are otherwise built from
// the config. Zero values mean the config or platform default.
type Options struct {
	Registry registry.Registry
	Arbiter  mount.Arbiter
	// ChangeSource wakes the late mount follower. Without one the
	// platform source is used.
	ChangeSource mount.ChangeSource
	// Publishers replaces the MQTT publishers from the config. The service
	// stops them on shutdown.
	Publishers []publishers.Publisher
	// Output receives every notification as a JSON line.
	Output io.Writer
	// APIListener serves the API instead of the configured address. It is
	// only used when the API is enabled.
	APIListener net.Listener
	// Callbacks are called after the service has handled each event, on
	// the watcher goroutine.
	Callbacks watcher.Callbacks
}

// Service is a running watcher and everything consuming its events.
type Service struct {
	watcher  *watcher.Watcher
	state    *state.State
	follower *mount.Follower
	done     chan struct{}
	err      error
}

// Start builds the service from cfg and opts and starts watching. Devices
// already attached are reported before the first new event.
func Start(cfg *config.Instance, opts Options) (*Service, error) {
	reg := opts.Registry
	if reg == nil {
		var err error
		reg, err = platformRegistry(cfg)
		if err != nil {
			return nil, err
		}
	}

	arb := opts.Arbiter
	if arb == nil {
		var err error
		arb, err = mount.NewArbiter(mount.ArbiterOptions{
			Backend:    cfg.MountBackend(),
			MountTable: cfg.MountTable(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create mount arbiter: %w", err)
		}
	}

	svc := &Service{
		state: state.NewState(),
		done:  make(chan struct{}),
	}

	var apiLn net.Listener
	if cfg.APIEnabled() {
		apiLn = opts.APIListener
		if apiLn == nil {
			var lc net.ListenConfig
			ln, err := lc.Listen(context.Background(), "tcp", cfg.APIListen())
			if err != nil {
				return nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
			}
			apiLn = ln
		}
	}

	pubs := opts.Publishers
	if pubs == nil {
		pubs = startPublishers(cfg)
	}

	ns := make(chan models.Notification, cfg.EventBuffer())
	b := broker.NewBroker(context.Background(), ns)

	var consumers sync.WaitGroup
	if len(pubs) > 0 {
		ch, _ := b.Subscribe(cfg.EventBuffer())
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			publish(ch, pubs)
		}()
	}
	if opts.Output != nil {
		ch, id := b.Subscribe(cfg.EventBuffer())
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			writeLines(ch, opts.Output, func() { b.Unsubscribe(id) })
		}()
	}

	apiCtx, apiCancel := context.WithCancel(context.Background())
	var apiWG sync.WaitGroup
	if apiLn != nil {
		srv := api.NewServer(svc.state)
		ch, _ := b.Subscribe(cfg.EventBuffer())
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			srv.BroadcastNotifications(apiCtx, ch)
		}()
		apiWG.Add(1)
		go func() {
			defer apiWG.Done()
			if err := srv.Serve(apiCtx, apiLn); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	b.Start()

	runCtx, runCancel := context.WithCancel(context.Background())
	var followerWG sync.WaitGroup
	if wait := cfg.MountWait(); wait > 0 {
		svc.follower = newFollower(reg, arb, opts.ChangeSource, wait, svc.state, ns)
		followerWG.Add(1)
		go func() {
			defer followerWG.Done()
			svc.follower.Run(runCtx)
		}()
	}

	svc.watcher = watcher.New(reg, arb, svc.callbacks(ns, opts.Callbacks))

	go func() {
		err := svc.watcher.Run(runCtx)
		if err != nil {
			log.Error().Err(err).Msg("watcher stopped with error")
		}

		// the follower sends on ns, so it must exit before ns closes
		runCancel()
		followerWG.Wait()

		close(ns)
		<-b.Done()
		consumers.Wait()
		for _, p := range pubs {
			p.Stop()
		}

		apiCancel()
		apiWG.Wait()

		svc.err = err
		close(svc.done)
	}()

	return svc, nil
}

func newFollower(
	reg registry.Registry,
	arb mount.Arbiter,
	src mount.ChangeSource,
	wait time.Duration,
	st *state.State,
	ns chan<- models.Notification,
) *mount.Follower {
	if src == nil {
		var err error
		src, err = mount.NewChangeSource()
		if err != nil {
			log.Warn().Err(err).Msg("no mount change source, rescanning on an interval")
		}
	}
	return mount.NewFollower(mount.NewResolver(reg, arb), mount.FollowerOptions{
		Source:  src,
		Timeout: wait,
		OnMounted: func(bsdName, path string) {
			st.SetMount(bsdName, path)
			notifications.DevicesMounted(ns, models.MountResponse{BSDName: bsdName, Path: path})
		},
	})
}

// callbacks wraps the caller's callbacks. They all run on the watcher
// goroutine, so the pending fields need no lock.
func (s *Service) callbacks(ns chan<- models.Notification, user watcher.Callbacks) watcher.Callbacks {
	// Message and Unmounted fire while a device is extracted, before its
	// Inserted, Changed or Removed callback.
	var pendingMount, pendingTrack string

	// settle reports the mount found during extraction and hands an
	// unmounted disk to the follower once the state holds its entry.
	settle := func(md device.Metadata) {
		if pendingMount != "" {
			notifications.DevicesMounted(ns, models.MountResponse{
				BSDName: md.DeviceSystemPath,
				Path:    pendingMount,
			})
		}
		if pendingTrack != "" && s.follower != nil {
			s.follower.Track(pendingTrack)
		}
		pendingMount, pendingTrack = "", ""
	}

	return watcher.Callbacks{
		Inserted: func(md device.Metadata) {
			log.Info().Object("device", md).Msg("device attached")
			payload := models.DeviceResponse(md)
			s.state.AddDevice(payload, pendingMount)
			settle(md)
			notifications.DevicesAdded(ns, payload)
			if user.Inserted != nil {
				user.Inserted(md)
			}
		},
		Changed: func(md device.Metadata) {
			log.Info().Object("device", md).Msg("device storage attached")
			s.state.UpdateDevice(models.DeviceResponse(md), pendingMount)
			settle(md)
			if user.Changed != nil {
				user.Changed(md)
			}
		},
		Removed: func(md device.Metadata) {
			log.Info().Object("device", md).Msg("device detached")
			pendingMount, pendingTrack = "", ""
			if s.follower != nil {
				s.follower.Forget(md.DeviceSystemPath)
			}
			payload := models.DeviceResponse(md)
			s.state.RemoveDevice(payload)
			notifications.DevicesRemoved(ns, payload)
			if user.Removed != nil {
				user.Removed(md)
			}
		},
		Message: func(path string) {
			log.Info().Str("path", path).Msg("device volume mounted")
			pendingMount = path
			if user.Message != nil {
				user.Message(path)
			}
		},
		Unmounted: func(bsdName string) {
			pendingTrack = bsdName
			if user.Unmounted != nil {
				user.Unmounted(bsdName)
			}
		},
	}
}

// State returns the attached device store.
func (s *Service) State() *state.State {
	return s.state
}

// Done is closed once the service has fully shut down.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Err returns the watcher's error once Done is closed.
func (s *Service) Err() error {
	<-s.done
	return s.err
}

// Stop asks the watcher to stop, waits for every consumer to drain and
// returns the watcher's error.
func (s *Service) Stop() error {
	s.watcher.RequestStop()
	return s.Err()
}

// Scan looks up the mount path of the mass storage device with BSD name
// bsdName. The path is empty when there is no such device or it has no
// mounted volume.
func Scan(cfg *config.Instance, opts Options, bsdName string) (string, error) {
	reg := opts.Registry
	if reg == nil {
		var err error
		reg, err = platformRegistry(cfg)
		if err != nil {
			return "", err
		}
	}
	arb := opts.Arbiter
	if arb == nil {
		var err error
		arb, err = mount.NewArbiter(mount.ArbiterOptions{
			Backend:    cfg.MountBackend(),
			MountTable: cfg.MountTable(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create mount arbiter: %w", err)
		}
	}

	var path string
	w := watcher.New(reg, arb, watcher.Callbacks{
		Message: func(p string) { path = p },
	})
	w.ScanMassStorage(bsdName)
	return path, nil
}
