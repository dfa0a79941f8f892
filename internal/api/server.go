package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server runs the HTTP surface as a supervised service. h2c keeps HTTP/2
// available without TLS for clients that want multiplexed watch streams.
type Server struct {
	addr    string
	handler http.Handler
	timeout time.Duration
	log     *slog.Logger
}

// NewServer creates a Server.
func NewServer(addr string, handler http.Handler, timeout time.Duration, log *slog.Logger) *Server {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Server{addr: addr, handler: handler, timeout: timeout, log: log}
}

func (s *Server) String() string { return "http-server" }

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: s.timeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", "address", s.addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	return ctx.Err()
}
