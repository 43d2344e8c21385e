// Package config provides layered configuration loading for mailhits:
// built-in defaults, then an optional YAML or TOML file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultSMTPListen     = "127.0.0.1:1025"
	defaultHTTPListen     = "127.0.0.1:3000"
	defaultHostname       = "MailHits"
	defaultStreamCapacity = 100
	defaultOverflow       = "drop-oldest"
)

// Release provider names.
const (
	ProviderNone      = ""
	ProviderStdout    = "stdout"
	ProviderSES       = "ses"
	ProviderSMTPRelay = "smtprelay"
)

// Config holds the complete application configuration.
type Config struct {
	SMTP    SMTPConfig    `yaml:"smtp" toml:"smtp"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream"`
	Release ReleaseConfig `yaml:"release" toml:"release"`
	SES     SESConfig     `yaml:"ses" toml:"ses"`
	Relay   RelayConfig   `yaml:"relay" toml:"relay"`
	AMQP    AMQPConfig    `yaml:"amqp" toml:"amqp"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// SMTPConfig holds the capture listener configuration.
type SMTPConfig struct {
	Listen   string `yaml:"listen" toml:"listen"`
	Hostname string `yaml:"hostname" toml:"hostname"`
}

// HTTPConfig holds the query API listener configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// StreamConfig holds live-stream subscriber queue settings.
type StreamConfig struct {
	Capacity int    `yaml:"capacity" toml:"capacity"`
	Overflow string `yaml:"overflow" toml:"overflow"`
}

// ReleaseConfig selects the provider used to forward captured messages.
type ReleaseConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region" toml:"region"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	Sender          string `yaml:"sender" toml:"sender"`
}

// RelayConfig holds the upstream SMTP relay configuration.
type RelayConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Hostname string `yaml:"hostname" toml:"hostname"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// AMQPConfig holds the optional notifier configuration.
type AMQPConfig struct {
	URL        string `yaml:"url" toml:"url"`
	Exchange   string `yaml:"exchange" toml:"exchange"`
	RoutingKey string `yaml:"routing_key" toml:"routing_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or TOML file as the base
// layer, then overrides with environment variables. The format is chosen by
// extension: .toml is TOML, anything else is YAML. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables always override file values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// RelayAuthEnabled returns true if both relay username and password are set.
func (c *Config) RelayAuthEnabled() bool {
	return c.Relay.Username != "" && c.Relay.Password != ""
}

// NotifierEnabled returns true if an AMQP broker URL is configured.
func (c *Config) NotifierEnabled() bool {
	return c.AMQP.URL != ""
}

// Validate checks cross-field constraints that defaults cannot satisfy.
func (c *Config) Validate() error {
	if c.Stream.Capacity <= 0 {
		return fmt.Errorf("stream capacity must be positive, got %d", c.Stream.Capacity)
	}
	switch c.Stream.Overflow {
	case "drop-oldest", "drop-newest":
	default:
		return fmt.Errorf("unknown stream overflow policy %q", c.Stream.Overflow)
	}

	switch c.Release.Provider {
	case ProviderNone, ProviderStdout:
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("release provider %q requires SES_REGION and SES_SENDER", ProviderSES)
		}
	case ProviderSMTPRelay:
		if c.Relay.Addr == "" {
			return fmt.Errorf("release provider %q requires RELAY_ADDR", ProviderSMTPRelay)
		}
	default:
		return fmt.Errorf("unknown release provider %q", c.Release.Provider)
	}
	return nil
}

// WithPort replaces the port of a host:port listen address. A zero port
// leaves addr unchanged.
func WithPort(addr string, port int) (string, error) {
	if port == 0 {
		return addr, nil
	}
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = defaultSMTPListen
	c.SMTP.Hostname = defaultHostname
	c.HTTP.Listen = defaultHTTPListen
	c.Stream.Capacity = defaultStreamCapacity
	c.Stream.Overflow = defaultOverflow
	c.AMQP.Exchange = "mailhits"
	c.AMQP.RoutingKey = "email.captured"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	setString(&c.HTTP.Listen, "HTTP_LISTEN")

	if v := os.Getenv("STREAM_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.Capacity = n
		}
	}
	if v := os.Getenv("STREAM_OVERFLOW"); v != "" {
		c.Stream.Overflow = strings.ToLower(v)
	}
	if v := os.Getenv("RELEASE_PROVIDER"); v != "" {
		c.Release.Provider = strings.ToLower(v)
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Relay.Addr, "RELAY_ADDR")
	setString(&c.Relay.Hostname, "RELAY_HOSTNAME")
	setString(&c.Relay.Username, "RELAY_USERNAME")
	setString(&c.Relay.Password, "RELAY_PASSWORD")

	setString(&c.AMQP.URL, "AMQP_URL")
	setString(&c.AMQP.Exchange, "AMQP_EXCHANGE")
	setString(&c.AMQP.RoutingKey, "AMQP_ROUTING_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
