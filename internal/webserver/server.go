// Package webserver serves a run's rendered output directory locally so a
// report can be previewed in a browser without shipping files around.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// shutdownGrace bounds how long in-flight requests get to drain once the
// run context is cancelled.
const shutdownGrace = 5 * time.Second

// Config holds the preview server configuration.
type Config struct {
	Port      int
	OutputDir string
	NoBrowser bool
	Logger    *slog.Logger
}

func (c *Config) normalize() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

// Server serves one rendered output directory over localhost.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
}

// New validates the output directory and builds the route table. The
// directory must exist up front; serving an empty tree would only mask a
// mistyped path until the browser shows a blank listing.
func New(cfg Config) (*Server, error) {
	cfg.normalize()

	info, err := os.Stat(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output path %s is not a directory", cfg.OutputDir)
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		handler: routes(cfg),
	}, nil
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	s.logger.Info("preview server starting", "address", srv.Addr, "dir", s.cfg.OutputDir)
	fmt.Printf("checkdeck report: %s\n", url)

	if !s.cfg.NoBrowser {
		go s.openBrowserSoon(url)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		// The listener failed before the context asked us to stop.
		return fmt.Errorf("preview server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down preview server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("preview server shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("preview server: %w", err)
	}
	return nil
}

// Handler returns the route table (useful for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// openBrowserSoon opens the URL once the listener has had a moment to come
// up. A failed open is a debug-level event only; the URL is already printed.
func (s *Server) openBrowserSoon(url string) {
	time.Sleep(500 * time.Millisecond)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		s.logger.Debug("opening browser", "url", url, "error", err)
	}
}
