package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/argus/config.yaml"

// Supported monitored service kinds.
const (
	KindLoki    = "loki"
	KindGrafana = "grafana"
)

// Log level names accepted by the configuration.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Config represents the runtime configuration for the argus daemon.
type Config struct {
	Instances         []InstanceConfig `yaml:"instances"`
	DiscordWebhookURL string           `yaml:"discord_webhook_url"`
	CheckIntervalSec  int              `yaml:"check_interval_sec"`
	FailureThreshold  int              `yaml:"failure_threshold"`
	RequestTimeoutSec int              `yaml:"request_timeout_sec"`
	LogLevel          string           `yaml:"log_level"`
	Metrics           MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig describes one monitored endpoint.
type InstanceConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if len(c.Instances) == 0 {
		problems = append(problems, "at least one instance must be configured")
	}
	seen := make(map[string]struct{}, len(c.Instances))
	for i := range c.Instances {
		for _, p := range c.Instances[i].validate() {
			problems = append(problems, fmt.Sprintf("instance[%d]: %s", i, p))
		}
		name := strings.TrimSpace(c.Instances[i].Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			problems = append(problems, fmt.Sprintf("instance[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
	}

	if err := validateHTTPURL(c.DiscordWebhookURL); err != nil {
		problems = append(problems, fmt.Sprintf("discord_webhook_url: %v", err))
	}
	if c.CheckIntervalSec <= 0 {
		problems = append(problems, "check_interval_sec must be greater than zero")
	}
	if c.FailureThreshold <= 0 {
		problems = append(problems, "failure_threshold must be greater than zero")
	}
	if c.RequestTimeoutSec <= 0 {
		problems = append(problems, "request_timeout_sec must be greater than zero")
	}
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not supported", c.LogLevel))
	}
	if c.Metrics.Enabled {
		if strings.TrimSpace(c.Metrics.Listen) == "" {
			problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
		} else if err := validateHostPort(c.Metrics.Listen); err != nil {
			problems = append(problems, fmt.Sprintf("metrics.listen: %v", err))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CheckIntervalSec == 0 {
		c.CheckIntervalSec = 120
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 2
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = 10
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9090"
	}

	// The webhook URL commonly carries a secret token, so ${VAR} references
	// are expanded to keep it out of the file.
	c.DiscordWebhookURL = os.ExpandEnv(c.DiscordWebhookURL)

	kindCounts := make(map[string]int, len(c.Instances))
	for i := range c.Instances {
		c.Instances[i].Kind = strings.ToLower(strings.TrimSpace(c.Instances[i].Kind))
		kindCounts[c.Instances[i].Kind]++
	}
	for i := range c.Instances {
		c.Instances[i].applyDefaults(kindCounts[c.Instances[i].Kind])
	}
}

// applyDefaults derives a display name for the instance: the bare kind when
// it is the only one of its kind, kind plus host when there are several.
func (ic *InstanceConfig) applyDefaults(kindTotal int) {
	if strings.TrimSpace(ic.Name) != "" {
		return
	}
	label := kindLabel(ic.Kind)
	if kindTotal <= 1 {
		ic.Name = label
		return
	}
	if parsed, err := url.Parse(ic.URL); err == nil && parsed.Host != "" {
		ic.Name = fmt.Sprintf("%s (%s)", label, parsed.Host)
		return
	}
	ic.Name = fmt.Sprintf("%s (%s)", label, ic.URL)
}

func kindLabel(kind string) string {
	switch kind {
	case KindLoki:
		return "Loki"
	case KindGrafana:
		return "Grafana"
	default:
		return kind
	}
}

func (ic InstanceConfig) validate() []string {
	problems := make([]string, 0)
	switch ic.Kind {
	case KindLoki, KindGrafana:
	case "":
		problems = append(problems, "kind is required")
	default:
		problems = append(problems, fmt.Sprintf("kind %q is not supported", ic.Kind))
	}
	if err := validateHTTPURL(ic.URL); err != nil {
		problems = append(problems, fmt.Sprintf("url: %v", err))
	}
	return problems
}

func validateHTTPURL(raw string) error {
	if err := validation.Validate(raw, validation.Required, is.URL); err != nil {
		return err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format")
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return fmt.Errorf("invalid host")
		}
	}
	return nil
}

// CheckInterval returns how long the scheduler waits between polling cycles.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// RequestTimeout returns the per-probe HTTP timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
