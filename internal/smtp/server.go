// Package smtp implements the capture-side SMTP listener: a minimal,
// unauthenticated submission server that accepts every message and hands
// it to the ingester.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/ingest"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// DefaultHostname is announced in the greeting when none is configured.
const DefaultHostname = "MailHits"

// IngestFunc turns a completed DATA payload and its envelope into a message.
type IngestFunc func(raw []byte, from string, to []string) (*email.Message, error)

// Recorder stores captured messages.
type Recorder interface {
	Append(msg *email.Message)
}

// Publisher notifies live observers of captured messages.
type Publisher interface {
	Publish(msg *email.Message)
}

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:1025").
	ListenAddr string

	// Hostname is announced in the greeting, HELO and QUIT replies.
	Hostname string

	// Ingest parses completed messages. Defaults to ingest.Ingest.
	Ingest IngestFunc

	// Recorder receives every captured message. Required.
	Recorder Recorder

	// Publisher, if set, is notified after each message is recorded.
	Publisher Publisher
}

// Server accepts SMTP connections and runs one Session per connection.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultHostname
	}
	if cfg.Ingest == nil {
		cfg.Ingest = ingest.Ingest
	}
	return &Server{config: cfg}
}

// ListenAndServe binds the listening socket and serves until ctx is
// cancelled. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Listen binds the listening socket without accepting connections yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind SMTP listener on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections on the bound listener until ctx is cancelled.
// On cancellation it stops accepting, closes open connections and waits up
// to 30 seconds for sessions to finish.
// @MX:WARN: [AUTO] Goroutine spawned per connection without explicit limit
// @MX:REASON: Each accepted TCP connection starts a goroutine for session handling
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("smtp: Serve called before Listen")
	}

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
	)

	// Monitor context for shutdown
	stop := context.AfterFunc(ctx, func() {
		slog.Info("shutting down SMTP server")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one session. Its failure is logged and stays local to
// the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	closeOnCancel := context.AfterFunc(ctx, func() { conn.Close() })
	defer closeOnCancel()

	remote := conn.RemoteAddr().String()
	slog.Debug("SMTP connection accepted", "remote", remote)

	session := NewSession(
		conn,
		s.config.Hostname,
		s.config.Ingest,
		s.config.Recorder,
		s.config.Publisher,
	)
	if err := session.Handle(ctx); err != nil {
		slog.Warn("SMTP session error", "remote", remote, "error", err)
		return
	}
	slog.Debug("SMTP connection closed", "remote", remote)
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
