// Package httpapi implements the broker's single loopback HTTP
// listener: the unified /mcp long-poll route used by the Roblox Studio
// plugin and the /events admin SSE route. Both routes are surfaces
// onto the state manager's command channel or its events.Hub; neither
// owns state of its own.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/broker"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

// Config carries the tunables the server needs beyond the broker
// handle. LongPollDuration must not exceed the dispatcher's execution
// timeout; config validation enforces that.
type Config struct {
	Addr             string
	LongPollDuration time.Duration
}

// Server is the loopback HTTP listener hosting /mcp and /events.
type Server struct {
	cfg    Config
	handle *broker.Handle
	hub    *events.Hub
	logger *slog.Logger
	srv    *http.Server
}

func New(cfg Config, handle *broker.Handle, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, handle: handle, hub: hub, logger: logger}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.HandleFunc("/mcp", s.handleMCP)
	r.Get("/events", s.handleEvents)

	return r
}

// Start runs the HTTP server until ctx is cancelled, then performs a
// graceful shutdown. Blocking.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events is an unbounded SSE stream and /mcp
		// polls park for LongPollDuration; per-handler contexts bound
		// the long-poll instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("http listener starting", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http listener shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("http listener error: %w", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
