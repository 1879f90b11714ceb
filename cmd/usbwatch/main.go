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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ZaparooProject/usbwatch/internal/telemetry"
	"github.com/ZaparooProject/usbwatch/pkg/cli"
	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	exit, err := flags.Pre(os.Args[1:], os.Stdout)
	if exit || err != nil {
		return err
	}

	// stdout carries notifications in json mode
	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	cfg, err := cli.Setup(config.BaseDefaults, []io.Writer{console})
	if err != nil {
		return err
	}
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			telemetry.Flush()
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	exit, err = flags.Post(cfg, os.Stdout)
	if exit || err != nil {
		return err
	}

	var output io.Writer
	if *flags.JSON {
		output = os.Stdout
	}

	log.Info().Str("version", config.AppVersion).Str("config", cfg.Path()).Msg("starting usbwatch")
	return cli.RunService(cfg, output)
}
