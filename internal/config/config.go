// Package config handles loading, validating, and defaulting headerlock
// daemon configuration. The daemon config is YAML and covers ambient
// concerns only; the user's header-override profile is a separate JSON
// document managed by the engine.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8343"
	DefaultDBPath    = "headerlock.db"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Config is the top-level headerlock daemon configuration.
type Config struct {
	Version     int           `yaml:"version"`
	Listen      string        `yaml:"listen"`
	DBPath      string        `yaml:"db_path"`
	ProfilePath string        `yaml:"profile_path"` // JSON profile file to watch; empty disables the watcher
	APIToken    string        `yaml:"api_token"`    // bearer token for mutating API calls; empty disables auth
	Logging     LoggingConfig `yaml:"logging"`
	Notify      NotifyConfig  `yaml:"notify"`
}

// LoggingConfig configures audit logging.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, file, both
	File   string `yaml:"file"`
}

// NotifyConfig configures external event forwarding. Both sinks are
// optional; an empty URL or address disables the sink.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Syslog  SyslogConfig  `yaml:"syslog"`
}

// WebhookConfig configures the webhook notification sink.
type WebhookConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	MinSeverity string `yaml:"min_severity"` // info, warn, critical
}

// SyslogConfig configures the syslog notification sink.
type SyslogConfig struct {
	Address     string `yaml:"address"` // udp://host:port or tcp://host:port
	Facility    string `yaml:"facility"`
	Tag         string `yaml:"tag"`
	MinSeverity string `yaml:"min_severity"`
}

// Load reads, parses, defaults, and validates a daemon config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
}

// Validate checks the config for errors. Must be called after
// ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if u := c.Notify.Webhook.URL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("invalid notify webhook url %q: must be http:// or https://", u)
	}
	for _, sev := range []string{c.Notify.Webhook.MinSeverity, c.Notify.Syslog.MinSeverity} {
		switch sev {
		case "", "info", "warn", "critical":
		default:
			return fmt.Errorf("invalid notify min_severity %q: must be info, warn, or critical", sev)
		}
	}

	// Warn if the API binds beyond loopback; the save endpoint mutates
	// the live rule table.
	if host, _, err := net.SplitHostPort(c.Listen); err == nil {
		ip := net.ParseIP(host)
		if (ip != nil && !ip.IsLoopback()) || host == "" || host == "0.0.0.0" || host == "::" {
			fmt.Fprintf(os.Stderr, "WARNING: listen address %s is not loopback - the profile API will be exposed to the network\n", c.Listen)
		}
	}

	return nil
}
