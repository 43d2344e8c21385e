// Package smtprelay implements a Provider that releases messages through an
// upstream SMTP server.
package smtprelay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/provider"
)

// Config holds the upstream relay settings.
type Config struct {
	// Addr is the relay host:port.
	Addr string

	// Hostname is sent in EHLO. Empty lets the client pick its default.
	Hostname string

	// Username and Password enable SASL PLAIN when both are set.
	Username string
	Password string
}

// Provider relays captured messages unchanged to an upstream server.
type Provider struct {
	config Config
}

// New creates a relay Provider.
func New(cfg Config) *Provider {
	return &Provider{config: cfg}
}

// Send opens a connection, relays the message with the captured envelope
// sender and msg.To as recipients, and quits. The captured source is sent
// byte for byte; messages without one are rebuilt from their parsed parts.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if len(msg.To) == 0 {
		return provider.ErrNoRecipients
	}

	data := msg.Source
	if len(data) == 0 {
		built, err := provider.BuildMIME(msg.From, msg)
		if err != nil {
			return fmt.Errorf("failed to build message: %w", err)
		}
		data = built
	}

	c, err := smtp.Dial(p.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", p.config.Addr, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if p.config.Hostname != "" {
		if err := c.Hello(p.config.Hostname); err != nil {
			return fmt.Errorf("relay rejected EHLO: %w", err)
		}
	}

	if p.config.Username != "" && p.config.Password != "" {
		auth := sasl.NewPlainClient("", p.config.Username, p.config.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("relay authentication failed: %w", err)
		}
	}

	if err := c.SendMail(msg.From, msg.To, bytes.NewReader(data)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("relay cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to relay message: %w", err)
	}

	if err := c.Quit(); err != nil {
		slog.Debug("relay QUIT failed", "addr", p.config.Addr, "error", err)
	}

	slog.Info("message released via SMTP relay",
		"id", msg.ID,
		"addr", p.config.Addr,
		"recipients", len(msg.To),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtprelay"
}
