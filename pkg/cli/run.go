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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/service"
	"github.com/rs/zerolog/log"
)

// RunService runs the watcher service until SIGINT or SIGTERM. With output
// set every notification is also written there as a JSON line.
func RunService(cfg *config.Instance, output io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runUntil(ctx, cfg, service.Options{Output: output})
}

func runUntil(ctx context.Context, cfg *config.Instance, opts service.Options) error {
	svc, err := service.Start(cfg, opts)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("stopping service")
	case <-svc.Done():
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("service stopped with error: %w", err)
	}
	return nil
}
