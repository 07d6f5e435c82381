// Package localapi is the read-only Unix-domain-socket HTTP surface
// PartyRuntime exposes to the out-of-band control layer (GUI, CLI,
// Discord bot, etc.) per §6.3's "Local status surface": GET /v1/party
// and GET /v1/peers. It is deliberately narrow — no TCP listener, no
// bearer auth, no mutating routes — since this surface only ever
// answers "what is this host's party/peer state right now."
package localapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
)

// Server serves the local status API over a Unix domain socket.
type Server struct {
	cfg     Config
	handler *handler
	logger  *slog.Logger
}

// NewServer creates a Server. Config defaults are applied automatically.
func NewServer(cfg Config, provider StatusProvider, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: newHandler(provider),
		logger:  logger.With("component", "localapi"),
	}
}

// Start binds the Unix socket, restricts it to the owning user (mode
// 0600 — this is a single-host, single-user daemon; there is no
// multi-tenant group to share it with), and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	os.Remove(s.cfg.SocketPath)
	if dir := filepath.Dir(s.cfg.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("localapi: create socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("localapi: listen unix %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		s.logger.Warn("failed to restrict socket permissions", "error", err)
	}

	srv := &http.Server{Handler: s.handler.mux()}

	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	s.logger.Info("local API started", "socket", s.cfg.SocketPath)

	select {
	case <-ctx.Done():
	case err := <-errc:
		os.Remove(s.cfg.SocketPath)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	os.Remove(s.cfg.SocketPath)

	s.logger.Info("local API stopped")
	return ctx.Err()
}
