package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeValidConfig(t *testing.T) {
	yaml := `instances:
  - kind: loki
    url: http://10.0.0.5:3100
  - kind: grafana
    url: http://10.0.0.5:3000
discord_webhook_url: https://discord.com/api/webhooks/123/token
check_interval_sec: 60
`

	cfg, err := decode(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}

	if len(cfg.Instances) != 2 {
		t.Fatalf("expected two instances, got %d", len(cfg.Instances))
	}
	if cfg.Instances[0].Name != "Loki" {
		t.Fatalf("expected default name Loki, got %q", cfg.Instances[0].Name)
	}
	if cfg.CheckIntervalSec != 60 {
		t.Fatalf("expected check interval 60, got %d", cfg.CheckIntervalSec)
	}
	if cfg.FailureThreshold != 2 {
		t.Fatalf("expected default failure_threshold 2, got %d", cfg.FailureThreshold)
	}
	if cfg.RequestTimeoutSec != 10 {
		t.Fatalf("expected default request_timeout_sec 10, got %d", cfg.RequestTimeoutSec)
	}
	if cfg.LogLevel != LogLevelInfo {
		t.Fatalf("expected default log_level info, got %q", cfg.LogLevel)
	}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Fatalf("unexpected request timeout duration: %s", cfg.RequestTimeout())
	}
}

func TestMultipleInstancesOfOneKindGetHostLabels(t *testing.T) {
	yaml := `instances:
  - kind: loki
    url: http://host-a:3100
  - kind: loki
    url: http://host-b:3100
  - kind: grafana
    url: http://host-a:3000
discord_webhook_url: https://discord.com/api/webhooks/123/token
`

	cfg, err := decode(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}

	if got := cfg.Instances[0].Name; got != "Loki (host-a:3100)" {
		t.Fatalf("unexpected first loki label: %q", got)
	}
	if got := cfg.Instances[1].Name; got != "Loki (host-b:3100)" {
		t.Fatalf("unexpected second loki label: %q", got)
	}
	if got := cfg.Instances[2].Name; got != "Grafana" {
		t.Fatalf("expected single grafana to keep the bare label, got %q", got)
	}
}

func TestValidateDetectsMissingFields(t *testing.T) {
	yaml := `instances: []
discord_webhook_url: ""
`
	_, err := decode(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Problems) == 0 {
		t.Fatal("expected problems to be reported")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{
		Instances: []InstanceConfig{
			{Kind: "loki", URL: "ftp://example.com", Name: "a"},
			{Kind: "mysql", URL: "http://example.com", Name: "a"},
		},
		DiscordWebhookURL: "https://discord.com/api/webhooks/123/token",
		CheckIntervalSec:  0,
		FailureThreshold:  -1,
		RequestTimeoutSec: 5,
		LogLevel:          "loud",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	expectations := []string{
		"must use http or https scheme",
		`kind "mysql" is not supported`,
		"duplicate name",
		"check_interval_sec must be greater than zero",
		"failure_threshold must be greater than zero",
		"log_level",
	}
	joined := verr.Error()
	for _, want := range expectations {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected problem containing %q, got %s", want, joined)
		}
	}
}

func TestValidateRejectsZeroThreshold(t *testing.T) {
	yaml := `instances:
  - kind: grafana
    url: http://10.0.0.5:3000
discord_webhook_url: https://discord.com/api/webhooks/123/token
failure_threshold: -2
`
	_, err := decode(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error for non-positive threshold")
	}
}

func TestMetricsListenValidation(t *testing.T) {
	cfg := Config{
		Instances:         []InstanceConfig{{Kind: "loki", URL: "http://10.0.0.5:3100", Name: "Loki"}},
		DiscordWebhookURL: "https://discord.com/api/webhooks/123/token",
		CheckIntervalSec:  120,
		FailureThreshold:  2,
		RequestTimeoutSec: 10,
		LogLevel:          LogLevelInfo,
		Metrics:           MetricsConfig{Enabled: true, Listen: "not-an-address"},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for malformed metrics.listen")
	}

	cfg.Metrics.Listen = "127.0.0.1:9090"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestWebhookURLEnvExpansion(t *testing.T) {
	t.Setenv("ARGUS_WEBHOOK_TOKEN", "secret-token")
	yaml := `instances:
  - kind: loki
    url: http://10.0.0.5:3100
discord_webhook_url: https://discord.com/api/webhooks/123/${ARGUS_WEBHOOK_TOKEN}
`
	cfg, err := decode(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if cfg.DiscordWebhookURL != "https://discord.com/api/webhooks/123/secret-token" {
		t.Fatalf("expected env expansion, got %q", cfg.DiscordWebhookURL)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	yaml := `instances:
  - kind: loki
    url: http://10.0.0.5:3100
discord_webhook_url: https://discord.com/api/webhooks/123/token
frequency_sec: 30
`
	if _, err := decode(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
