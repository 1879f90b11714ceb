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

// Package api serves the attached device list and a live stream of device
// notifications over HTTP and WebSocket.
//
// WebSocket clients connect to /api and receive every notification as a
// JSON-RPC 2.0 notification. They may also send JSON-RPC requests for the
// methods in methodMap.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/api/models"
	"github.com/ZaparooProject/usbwatch/pkg/config"
	"github.com/ZaparooProject/usbwatch/pkg/service/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 2 * time.Second

var (
	JSONRPCErrorParseError = models.ErrorObject{
		Code:    -32700,
		Message: "Parse error",
	}
	JSONRPCErrorInvalidRequest = models.ErrorObject{
		Code:    -32600,
		Message: "Invalid Request",
	}
	JSONRPCErrorMethodNotFound = models.ErrorObject{
		Code:    -32601,
		Message: "Method not found",
	}
)

type methodFunc func(*Server, models.RequestObject) (any, error)

var methodMap = map[string]methodFunc{
	models.MethodDevices: func(s *Server, _ models.RequestObject) (any, error) {
		return s.state.Devices(), nil
	},
	models.MethodVersion: func(*Server, models.RequestObject) (any, error) {
		return version(), nil
	},
}

func version() models.VersionResponse {
	return models.VersionResponse{
		Version:  config.AppVersion,
		Platform: runtime.GOOS,
	}
}

type Server struct {
	state  *state.State
	ws     *melody.Melody
	router chi.Router
}

func NewServer(st *state.State) *Server {
	s := &Server{
		state: st,
		ws:    melody.New(),
	}
	s.ws.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.ws.HandleMessage(s.handleWSMessage)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		ExposedHeaders: []string{},
	}))

	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		err := s.ws.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(config.APIRequestTimeout))
		r.Get("/devices", s.handleDevices)
		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, version())
		})
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.state.Devices())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

// BroadcastNotifications sends every notification to all connected
// WebSocket clients until notifications is closed or ctx is done.
func (s *Server) BroadcastNotifications(ctx context.Context, notifications <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			req := models.RequestObject{
				JSONRPC: models.JSONRPCVersion,
				Method:  notif.Method,
				Params:  notif.Params,
			}

			data, err := json.Marshal(req)
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification request")
				continue
			}

			if err := s.ws.Broadcast(data); err != nil {
				if errors.Is(err, melody.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

func (s *Server) handleWSMessage(session *melody.Session, msg []byte) {
	var req models.RequestObject
	if err := json.Unmarshal(msg, &req); err != nil {
		log.Debug().Err(err).Msg("invalid websocket message")
		sendError(session, uuid.Nil, JSONRPCErrorParseError)
		return
	}

	if req.JSONRPC != models.JSONRPCVersion || req.Method == "" {
		sendError(session, idOf(req), JSONRPCErrorInvalidRequest)
		return
	}

	fn, ok := methodMap[strings.ToLower(req.Method)]
	if !ok {
		sendError(session, idOf(req), JSONRPCErrorMethodNotFound)
		return
	}

	if req.ID == nil {
		// notifications from clients get no response
		return
	}

	log.Debug().Str("method", req.Method).Msg("received request")
	result, err := fn(s, req)
	if err != nil {
		sendError(session, *req.ID, models.ErrorObject{Code: 1, Message: err.Error()})
		return
	}
	sendResponse(session, *req.ID, result)
}

func idOf(req models.RequestObject) uuid.UUID {
	if req.ID == nil {
		return uuid.Nil
	}
	return *req.ID
}

func sendResponse(session *melody.Session, id uuid.UUID, result any) {
	write(session, models.ResponseObject{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func sendError(session *melody.Session, id uuid.UUID, errObj models.ErrorObject) {
	write(session, models.ResponseObject{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Error:   &errObj,
	})
}

func write(session *melody.Session, resp models.ResponseObject) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("marshalling response")
		return
	}
	if err := session.Write(data); err != nil {
		log.Error().Err(err).Msg("writing websocket response")
	}
}

// Serve accepts connections on ln until ctx is done. Connected WebSocket
// clients are closed on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		if err := s.ws.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
			log.Debug().Err(err).Msg("error closing websocket sessions")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("error shutting down api server")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	err := srv.Serve(ln)
	close(done)
	<-stopped
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("api server failed: %w", err)
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
