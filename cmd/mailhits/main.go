// Package main is the entry point for mailhits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailhits/internal/api"
	"github.com/shineum/mailhits/internal/broadcast"
	"github.com/shineum/mailhits/internal/config"
	"github.com/shineum/mailhits/internal/notify"
	"github.com/shineum/mailhits/internal/smtp"
	"github.com/shineum/mailhits/internal/store"
)

// options holds command-line flags. Zero values leave configuration as is.
type options struct {
	configPath string
	smtpPort   int
	httpPort   int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "mailhits",
		Short:        "Capture outbound mail for local development",
		Long:         "mailhits runs an SMTP server that accepts every message and an HTTP API to inspect, stream and release what it captured.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				slog.Error("failed to load configuration", "error", err)
				return err
			}
			setupLogger(cfg.Logging.Level, cfg.Logging.Format)
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a YAML or TOML configuration file (optional)")
	cmd.Flags().IntVarP(&opts.smtpPort, "smtp-port", "s", 0, "SMTP port, overrides the configured listen port")
	cmd.Flags().IntVarP(&opts.httpPort, "http-port", "p", 0, "HTTP port, overrides the configured listen port")

	return cmd
}

// loadConfig loads configuration from the file (if given) and environment,
// then applies port flags and validates the result.
func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cfg.SMTP.Listen, err = config.WithPort(cfg.SMTP.Listen, opts.smtpPort); err != nil {
		return nil, fmt.Errorf("--smtp-port: %w", err)
	}
	if cfg.HTTP.Listen, err = config.WithPort(cfg.HTTP.Listen, opts.httpPort); err != nil {
		return nil, fmt.Errorf("--http-port: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts every subsystem and blocks until ctx is cancelled or the HTTP
// server fails. An SMTP bind failure is logged and leaves the API running.
func run(ctx context.Context, cfg *config.Config) error {
	policy, err := broadcast.ParsePolicy(cfg.Stream.Overflow)
	if err != nil {
		return err
	}

	st := store.New()
	bc := broadcast.New(cfg.Stream.Capacity, policy)

	prov, err := buildProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to create release provider", "error", err)
		return err
	}

	if cfg.NotifierEnabled() {
		conn, ch, err := notify.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			slog.Warn("AMQP notifier disabled", "error", err)
		} else {
			defer conn.Close()
			go notify.New(ch, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey).Run(ctx, bc.Subscribe())
		}
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr: cfg.SMTP.Listen,
		Hostname:   cfg.SMTP.Hostname,
		Recorder:   st,
		Publisher:  bc,
	})

	providerName := "none"
	if prov != nil {
		providerName = prov.Name()
	}
	slog.Info("starting mailhits",
		"smtp_listen", cfg.SMTP.Listen,
		"http_listen", cfg.HTTP.Listen,
		"stream_capacity", cfg.Stream.Capacity,
		"stream_overflow", policy.String(),
		"release_provider", providerName,
		"notifier", cfg.NotifierEnabled(),
	)

	smtpDone := make(chan struct{})
	go func() {
		defer close(smtpDone)
		if err := server.ListenAndServe(ctx); err != nil {
			slog.Error("SMTP server error", "error", err)
		}
	}()

	apiCfg := api.Config{Store: st, Broadcaster: bc}
	if prov != nil {
		apiCfg.Provider = prov
	}
	httpErr := api.New(apiCfg).ListenAndServe(ctx, cfg.HTTP.Listen)
	if httpErr != nil {
		slog.Error("HTTP server error", "error", httpErr)
		return httpErr
	}

	<-smtpDone
	slog.Info("mailhits stopped")
	return nil
}

// setupLogger configures the global slog logger with JSON (default) or text
// output and the specified log level.
func setupLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
