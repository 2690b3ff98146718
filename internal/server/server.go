package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cooklang/cooksync/internal/server/handlers/ws"
	"github.com/cooklang/cooksync/internal/version"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config *Config
	server *http.Server
	hub    *ws.WebsocketHub
	svc    *Services
}

func New(ctx context.Context, config *Config) (*Server, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	svc, err := NewServices(ctx, config)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(svc.Notifier)
	handler, err := SetupRoutes(config, svc, hub)
	if err != nil {
		svc.Shutdown(ctx)
		return nil, err
	}

	return &Server{
		config: config,
		hub:    hub,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler is the http handler of the server, for tests that bring their own listener
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Services() *Services {
	return s.svc
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	slog.Info("cooksync server start", "version", version.Short(), "addr", s.config.HTTP.Addr)
	defer slog.Info("cooksync server stop")

	listener, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.HTTP.Addr, err)
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			s.Stop(context.Background())
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("cooksync shutdown signal")
	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.hub.Shutdown(shutdownCtx)

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) serve(listener net.Listener) error {
	if s.config.HTTP.TLS() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ServeTLS(listener, s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.Serve(listener)
}
