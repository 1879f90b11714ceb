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

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // replaces the global logger
func TestInitLogging(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	logDir := filepath.Join(t.TempDir(), "logs", "nested")
	var console bytes.Buffer

	require.NoError(t, InitLogging(logDir, []io.Writer{&console}))
	log.Info().Str("bsd_name", "sdb").Msg("device attached")

	assert.Contains(t, console.String(), "device attached")
	assert.Contains(t, console.String(), `"bsd_name":"sdb"`)

	data, err := os.ReadFile(filepath.Join(logDir, config.LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "device attached")

	_, err = LogWriter().Write([]byte("direct\n"))
	require.NoError(t, err)
	assert.Contains(t, console.String(), "direct")
}

//nolint:paralleltest // replaces the global logger
func TestInitLogging_BadDir(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	require.Error(t, InitLogging(filepath.Join(file, "logs"), nil))
}

func TestDirs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, config.AppName, filepath.Base(LogDir()))
	assert.Equal(t, config.AppName, filepath.Base(ConfigDir()))
	assert.NotEqual(t, ConfigDir(), LogDir())
}
