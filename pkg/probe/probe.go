package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siyamsarker/argus/pkg/config"
)

// Probers never read more than this much of a response body; health
// endpoints answer with a few bytes and a misbehaving one must not be able
// to balloon memory.
const maxBodyBytes = 64 * 1024

const reasonExcerptLen = 120

// Outcome is the result of a single health check. Failures are values, not
// errors: an unreachable endpoint is an expected condition that feeds the
// state machine.
type Outcome struct {
	Healthy bool
	Reason  string
}

// Prober performs one health check against a monitored instance.
type Prober interface {
	Name() string
	Kind() string
	Probe(ctx context.Context) Outcome
}

// NewFromConfig instantiates a prober based on the provided instance configuration.
func NewFromConfig(cfg config.InstanceConfig, client *http.Client, timeout time.Duration) (Prober, error) {
	base := strings.TrimRight(cfg.URL, "/")
	switch cfg.Kind {
	case config.KindLoki:
		return &LokiProber{name: cfg.Name, endpoint: base + "/ready", client: client, timeout: timeout}, nil
	case config.KindGrafana:
		return &GrafanaProber{name: cfg.Name, endpoint: base + "/api/health", client: client, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported instance kind %q", cfg.Kind)
	}
}

// NewAll constructs a slice of probers from configuration, all sharing the
// provided HTTP client.
func NewAll(cfgs []config.InstanceConfig, client *http.Client, timeout time.Duration) ([]Prober, error) {
	probers := make([]Prober, 0, len(cfgs))
	for _, cfg := range cfgs {
		prober, err := NewFromConfig(cfg, client, timeout)
		if err != nil {
			return nil, err
		}
		probers = append(probers, prober)
	}
	return probers, nil
}

// NewPooledClient builds an HTTP client whose transport keeps idle
// connections warm across polling cycles, sized for the monitored instance
// count. Redirect following is disabled so a health endpoint that redirects
// is reported as-is.
func NewPooledClient(instanceCount int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = instanceCount + 2
	transport.MaxIdleConnsPerHost = 2
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// LokiProber checks Loki readiness via the /ready endpoint.
type LokiProber struct {
	name     string
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func (p *LokiProber) Name() string { return p.name }
func (p *LokiProber) Kind() string { return config.KindLoki }

func (p *LokiProber) Probe(ctx context.Context) Outcome {
	body, failure := fetch(ctx, p.client, p.endpoint, p.timeout)
	if failure != "" {
		return Outcome{Reason: failure}
	}
	if !strings.Contains(strings.ToLower(string(body)), "ready") {
		return Outcome{Reason: fmt.Sprintf("response body does not contain 'ready': %s", excerpt(body))}
	}
	return Outcome{Healthy: true, Reason: "Loki is ready"}
}

// GrafanaProber checks Grafana health via the /api/health endpoint.
type GrafanaProber struct {
	name     string
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func (p *GrafanaProber) Name() string { return p.name }
func (p *GrafanaProber) Kind() string { return config.KindGrafana }

func (p *GrafanaProber) Probe(ctx context.Context) Outcome {
	body, failure := fetch(ctx, p.client, p.endpoint, p.timeout)
	if failure != "" {
		return Outcome{Reason: failure}
	}
	var health struct {
		Database string `json:"database"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return Outcome{Reason: fmt.Sprintf("invalid JSON response: %s", excerpt(body))}
	}
	if health.Database != "ok" {
		return Outcome{Reason: fmt.Sprintf("database field is %q, expected \"ok\"", health.Database)}
	}
	return Outcome{Healthy: true, Reason: "Grafana is healthy"}
}

// fetch performs a timeout-bounded GET and returns the body on HTTP 200, or
// a non-empty failure reason otherwise.
func fetch(ctx context.Context, client *http.Client, endpoint string, timeout time.Duration) ([]byte, string) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Sprintf("build request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Sprintf("request timed out after %s", timeout)
		}
		return nil, fmt.Sprintf("connection error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Sprintf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)
	}
	return body, ""
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > reasonExcerptLen {
		return text[:reasonExcerptLen]
	}
	return text
}

var _ Prober = (*LokiProber)(nil)
var _ Prober = (*GrafanaProber)(nil)
