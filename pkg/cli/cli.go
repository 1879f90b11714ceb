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

// Package cli holds the command line flags and startup shared by the
// usbwatch binaries.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/ZaparooProject/usbwatch/internal/telemetry"
	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/helpers"
	"github.com/ZaparooProject/usbwatch/pkg/service"
	"github.com/rs/zerolog/log"
)

const devicesTimeout = 5 * time.Second

// ErrNoValue is returned when a flag that needs a value was given an empty
// one.
var ErrNoValue = errors.New("flag requires a value")

type Flags struct {
	set            *flag.FlagSet
	Scan           *string
	MountBackend   *string
	Version        *bool
	Devices        *bool
	JSON           *bool
	Debug          *bool
	ErrorReporting *bool
}

// SetupFlags defines the common flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		set: fs,
		Scan: fs.String(
			"scan",
			"",
			"print the mount path of the mass storage device with this BSD name and exit",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Devices: fs.Bool(
			"devices",
			false,
			"list devices attached according to the running service and exit",
		),
		JSON: fs.Bool(
			"json",
			false,
			"write every notification to stdout as a JSON line",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"enable debug logging",
		),
		MountBackend: fs.String(
			"mount-backend",
			"",
			"mount lookup backend for this run: auto, udisks2, mounttable or fsstat",
		),
		ErrorReporting: fs.Bool(
			"error-reporting",
			false,
			"turn error reporting on or off in the config file and exit",
		),
	}
}

func (f *Flags) isPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles the flags that need no setup. It reports
// whether the program should exit.
func (f *Flags) Pre(args []string, out io.Writer) (exit bool, err error) {
	if err := f.set.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "%s v%s (%s)\n", config.AppName, config.AppVersion, runtime.GOOS)
		return true, nil
	}
	return false, nil
}

// Post handles the flags that need a loaded config. It reports whether the
// program should exit.
func (f *Flags) Post(cfg *config.Instance, out io.Writer) (exit bool, err error) {
	if *f.Debug {
		cfg.SetDebugLogging(true)
	}
	if f.isPassed("mount-backend") {
		if *f.MountBackend == "" {
			return true, fmt.Errorf("mount-backend: %w", ErrNoValue)
		}
		cfg.SetMountBackend(*f.MountBackend)
	}

	switch {
	case f.isPassed("error-reporting"):
		cfg.SetErrorReporting(*f.ErrorReporting)
		if err := cfg.Save(); err != nil {
			return true, fmt.Errorf("failed to save config: %w", err)
		}
		state := "off"
		if *f.ErrorReporting {
			state = "on"
		}
		_, _ = fmt.Fprintf(out, "error reporting %s\n", state)
		return true, nil
	case f.isPassed("scan"):
		if *f.Scan == "" {
			return true, fmt.Errorf("scan: %w", ErrNoValue)
		}
		path, err := service.Scan(cfg, service.Options{}, *f.Scan)
		if err != nil {
			return true, fmt.Errorf("error scanning for device: %w", err)
		}
		// an empty line means no mounted volume
		_, _ = fmt.Fprintln(out, path)
		return true, nil
	case *f.Devices:
		ctx, cancel := context.WithTimeout(context.Background(), devicesTimeout)
		defer cancel()
		devices, err := fetchDevices(ctx, "http://"+cfg.APIListen()+"/devices")
		if err != nil {
			return true, err
		}
		return true, printDevices(out, devices)
	}
	return false, nil
}

func fetchDevices(ctx context.Context, url string) ([]models.AttachedDeviceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach service, is the api enabled? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned %s", resp.Status)
	}

	var devices []models.AttachedDeviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	return devices, nil
}

func printDevices(out io.Writer, devices []models.AttachedDeviceResponse) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tNAME\tVENDOR\tPRODUCT\tSERIAL\tMOUNT")
	for _, d := range devices {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeviceSystemPath,
			d.DeviceName,
			d.VendorID,
			d.ProductID,
			d.SerialNumber,
			d.MountPath,
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write devices: %w", err)
	}
	return nil
}

// Setup initializes logging, the user config and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(defaultConfig config.Values, writers []io.Writer) (*config.Instance, error) {
	if err := helpers.InitLogging(helpers.LogDir(), writers); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(helpers.ConfigDir(), defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	cfg.SetDebugLogging(cfg.DebugLogging())

	enabled, dsn := cfg.ErrorReporting()
	if err := telemetry.Init(enabled, dsn, cfg.DeviceID()); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
