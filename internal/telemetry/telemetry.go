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

// Package telemetry provides opt-in error reporting via Sentry.
// Usernames are stripped from paths before transmission.
package telemetry

import (
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/helpers"
	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

var (
	enabled      bool
	sentryWriter *sentryzerolog.Writer
	closeOnce    sync.Once

	pathScrubbers = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`(?i)/home/[^/]+/`), "/home/<user>/"},
		{regexp.MustCompile(`(?i)/Users/[^/]+/`), "/Users/<user>/"},
		{regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`), `C:\Users\<user>\`},
		// udisks2 automounts under the session user's name
		{regexp.MustCompile(`(?i)(/run)?/media/[^/]+/`), "${1}/media/<user>/"},
	}
)

// serialKey is the log field carrying a device's USB serial number. Serials
// identify a physical stick, so they never leave the machine.
const serialKey = "serial"


// Init initializes Sentry error reporting with zerolog integration.
// Nothing is set up unless reporting is enabled and a DSN is given.
func Init(reportingEnabled bool, dsn, deviceID string) error {
	if !reportingEnabled || dsn == "" {
		log.Debug().Msg("error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          config.AppName + "@" + config.AppVersion,
		Environment:      runtime.GOOS,
		AttachStacktrace: true,
		// Privacy: explicitly disable PII collection
		SendDefaultPII: false,
		ServerName:     "",
		MaxBreadcrumbs: 0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: deviceID})
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	sentryWriter, err = sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		helpers.LogWriter(),
		sentryWriter,
	)).With().Timestamp().Caller().Logger()

	enabled = true
	log.Info().Msg("error reporting enabled")
	return nil
}

// Close flushes pending events and shuts down Sentry.
// Safe to call multiple times.
func Close() {
	if !enabled {
		return
	}
	closeOnce.Do(func() {
		_ = sentryWriter.Close()
		sentry.Flush(flushTimeout)
	})
}

// Flush sends pending events. Call it before os.Exit.
func Flush() {
	if !enabled {
		return
	}
	sentry.Flush(flushTimeout)
}

func Enabled() bool {
	return enabled
}

// sanitizeEvent removes PII from Sentry events before sending.
func sanitizeEvent(event *sentry.Event) *sentry.Event {
	// SDK may populate the hostname despite ServerName: ""
	event.ServerName = ""
	event.Message = sanitizePath(event.Message)

	for i := range event.Exception {
		ex := &event.Exception[i]
		ex.Value = sanitizePath(ex.Value)
		if ex.Stacktrace == nil {
			continue
		}
		for j := range ex.Stacktrace.Frames {
			frame := &ex.Stacktrace.Frames[j]
			frame.AbsPath = sanitizePath(frame.AbsPath)
			frame.Filename = sanitizePath(frame.Filename)
		}
	}

	event.Extra = sanitizeFields(event.Extra)
	return event
}

// sanitizeFields scrubs log fields, including nested objects such as a
// logged device.
func sanitizeFields(fields map[string]any) map[string]any {
	for k, v := range fields {
		if k == serialKey {
			fields[k] = "<redacted>"
			continue
		}
		switch val := v.(type) {
		case string:
			fields[k] = sanitizePath(val)
		case map[string]any:
			fields[k] = sanitizeFields(val)
		}
	}
	return fields
}

// sanitizePath removes usernames from file paths.
func sanitizePath(path string) string {
	for _, s := range pathScrubbers {
		path = s.re.ReplaceAllString(path, s.repl)
	}
	return path
}
