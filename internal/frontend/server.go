// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package frontend provides a line-oriented TCP adapter that drives the
// authentication flow. Proxies that embed gatelock in-process talk to the
// session service directly; this server is for out-of-process integrations
// and manual testing.
package frontend

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"

	"github.com/gatelock/gatelock/internal/session"
)

// Server accepts line-protocol connections and hands them to the
// authentication service.
type Server struct {
	addr     string
	svc      *session.Service
	logger   *slog.Logger
	listener net.Listener
	mu       sync.RWMutex
}

// NewServer creates a new frontend server.
func NewServer(addr string, svc *session.Service, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		svc:    svc,
		logger: logger,
	}
}

// Addr returns the server's listen address, or "" before Run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("frontend server started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		handler := NewConnectionHandler(conn, s.svc, s.logger)
		go handler.Handle(ctx)
	}
}
