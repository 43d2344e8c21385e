package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailhits/internal/config"
	"github.com/shineum/mailhits/internal/provider"
	"github.com/shineum/mailhits/internal/provider/ses"
	"github.com/shineum/mailhits/internal/provider/smtprelay"
	"github.com/shineum/mailhits/internal/provider/stdout"
)

// buildProvider creates the configured release provider. It returns nil
// when release is disabled.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Release.Provider {
	case config.ProviderNone:
		slog.Info("no release provider configured, release is disabled")
		return nil, nil

	case config.ProviderStdout:
		slog.Info("using stdout release provider")
		return stdout.New(), nil

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES release provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderSMTPRelay:
		if cfg.Relay.Addr == "" {
			return nil, fmt.Errorf("SMTP relay provider selected but RELAY_ADDR is required")
		}
		slog.Info("using SMTP relay release provider",
			"addr", cfg.Relay.Addr,
			"auth_enabled", cfg.RelayAuthEnabled(),
		)
		return smtprelay.New(smtprelay.Config{
			Addr:     cfg.Relay.Addr,
			Hostname: cfg.Relay.Hostname,
			Username: cfg.Relay.Username,
			Password: cfg.Relay.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown release provider %q", cfg.Release.Provider)
	}
}
