// Package server exposes a store over HTTP in the shape the remote
// transport downloads from, so one objectloader can serve another.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/store"
)

// Server serves objects from a store.
type Server struct {
	cfg    Config
	server *http.Server

	ready        chan struct{}
	addr         net.Addr
	shutdownOnce sync.Once
}

// New creates a stopped Server. Call Start to serve.
func New(cfg Config, st store.Store) (*Server, error) {
	if st == nil {
		return nil, errors.New("server: a store is required")
	}
	cfg.ApplyDefaults()
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < MinSecretLength {
		return nil, fmt.Errorf("server: JWT secret must be at least %d characters", MinSecretLength)
	}

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      NewRouter(cfg, st),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		ready: make(chan struct{}),
	}, nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address. Valid after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Start listens and serves until ctx is cancelled, then shuts down within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Address, err)
	}
	s.addr = ln.Addr()
	close(s.ready)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Object server listening",
			logger.KeyAddress, s.addr.String(),
			"auth", s.cfg.JWTSecret != "")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown: %w", err)
			logger.Error("Object server shutdown error", logger.KeyError, err)
			return
		}
		logger.Info("Object server stopped")
	})
	return shutdownErr
}
