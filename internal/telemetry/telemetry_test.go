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

package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no username in path",
			input:    "/usr/local/bin/usbwatch",
			expected: "/usr/local/bin/usbwatch",
		},
		{
			name:     "linux home path",
			input:    "/home/callan/.config/usbwatch/usbwatch.toml",
			expected: "/home/<user>/.config/usbwatch/usbwatch.toml",
		},
		{
			name:     "macos users path lowercase",
			input:    "/users/callan/Library/Caches/usbwatch/usbwatch.log",
			expected: "/Users/<user>/Library/Caches/usbwatch/usbwatch.log",
		},
		{
			name:     "windows path different drive",
			input:    "D:\\Users\\admin\\usbwatch\\logs",
			expected: "C:\\Users\\<user>\\usbwatch\\logs",
		},
		{
			name:     "udisks2 automount",
			input:    "/run/media/alice/CRUZER",
			expected: "/run/media/<user>/CRUZER",
		},
		{
			name:     "legacy media automount in message",
			input:    "mounted at /media/bob/STICK",
			expected: "mounted at /media/<user>/STICK",
		},
		{
			name:     "macos volume untouched",
			input:    "/Volumes/CRUZER",
			expected: "/Volumes/CRUZER",
		},
		{
			name:     "multiple paths in message",
			input:    "copying /home/alice/src to /home/bob/dst",
			expected: "copying /home/<user>/src to /home/<user>/dst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, sanitizePath(tt.input))
		})
	}
}

func TestSanitizeEvent(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "alices-macbook",
		Message:    "no volume for /Users/alice/disk.img",
		Extra: map[string]any{
			"path":  "/run/media/alice/STICK",
			"count": 3,
			"device": map[string]any{
				"name":   "Cruzer Blade",
				"serial": "4C530001230805117403",
			},
		},
		Exception: []sentry.Exception{{
			Value: "open /home/alice/.config/usbwatch/usbwatch.toml: permission denied",
			Stacktrace: &sentry.Stacktrace{Frames: []sentry.Frame{{
				AbsPath:  "/home/alice/src/usbwatch/pkg/watcher/watcher.go",
				Filename: "watcher.go",
			}}},
		}},
	}

	out := sanitizeEvent(event)
	require.NotNil(t, out)
	assert.Empty(t, out.ServerName)
	assert.Equal(t, "no volume for /Users/<user>/disk.img", out.Message)
	assert.Equal(t, "/run/media/<user>/STICK", out.Extra["path"])
	assert.Equal(t, 3, out.Extra["count"])
	assert.Equal(t, map[string]any{
		"name":   "Cruzer Blade",
		"serial": "<redacted>",
	}, out.Extra["device"])
	assert.Equal(t, "open /home/<user>/.config/usbwatch/usbwatch.toml: permission denied",
		out.Exception[0].Value)
	assert.Equal(t, "/home/<user>/src/usbwatch/pkg/watcher/watcher.go",
		out.Exception[0].Stacktrace.Frames[0].AbsPath)
}

func TestInit_DisabledWithoutDSN(t *testing.T) {
	t.Parallel()

	require.NoError(t, Init(true, "", "device"))
	require.NoError(t, Init(false, "https://key@example.com/1", "device"))
	assert.False(t, Enabled())
}

func TestCloseAndFlushWhenDisabled(t *testing.T) {
	t.Parallel()

	Close()
	Flush()
}
