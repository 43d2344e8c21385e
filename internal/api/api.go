// Package api serves captured messages over HTTP: a JSON query surface for
// listing, fetching and deleting messages, raw attachment and source
// downloads, release to a real destination, and a WebSocket live stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/julienschmidt/httprouter"

	"github.com/shineum/mailhits/internal/broadcast"
	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/provider"
)

// shutdownTimeout bounds how long in-flight requests may run after the
// server is asked to stop.
const shutdownTimeout = 10 * time.Second

// Store is the read/delete side of the message store.
type Store interface {
	List() []*email.Message
	Get(id string) (*email.Message, bool)
	Delete(id string) bool
	Clear()
}

// Config wires the API to the rest of the application.
type Config struct {
	Store       Store
	Broadcaster *broadcast.Broadcaster

	// Provider handles release requests. Nil disables release.
	Provider provider.Provider
}

// Server is the HTTP query surface.
type Server struct {
	config Config
	router *httprouter.Router
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		config: cfg,
		router: httprouter.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/emails", s.listEmails)
	s.router.POST("/api/emails", s.clearEmails)
	s.router.DELETE("/api/emails", s.clearEmails)
	s.router.GET("/api/emails/:id", s.getEmail)
	s.router.POST("/api/emails/:id", s.deleteEmail)
	s.router.DELETE("/api/emails/:id", s.deleteEmail)
	s.router.GET("/api/emails/:id/attachments/:attachment", s.getAttachment)
	s.router.GET("/api/emails/:id/source", s.getSource)
	s.router.POST("/api/emails/:id/release", s.releaseEmail)
	s.router.GET("/ws", s.stream)
}

// Handler returns the router wrapped with permissive CORS and request
// logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.CustomLoggingHandler(io.Discard, cors(s.router), logRequest)
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP listener on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts down
// gracefully. Open WebSocket streams end with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("HTTP server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	slog.Debug("HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"remote", p.Request.RemoteAddr,
	)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
