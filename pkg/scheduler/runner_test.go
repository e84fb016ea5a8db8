package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/siyamsarker/argus/pkg/config"
	"github.com/siyamsarker/argus/pkg/notify"
	"github.com/siyamsarker/argus/pkg/probe"
	"github.com/siyamsarker/argus/pkg/track"
)

type fakeProber struct {
	name     string
	kind     string
	outcomes []probe.Outcome
	calls    int
}

func (p *fakeProber) Name() string { return p.name }
func (p *fakeProber) Kind() string { return p.kind }

func (p *fakeProber) Probe(ctx context.Context) probe.Outcome {
	p.calls++
	if len(p.outcomes) == 0 {
		return probe.Outcome{Healthy: true}
	}
	if p.calls > len(p.outcomes) {
		return p.outcomes[len(p.outcomes)-1]
	}
	return p.outcomes[p.calls-1]
}

type panickingProber struct {
	name string
}

func (p *panickingProber) Name() string { return p.name }
func (p *panickingProber) Kind() string { return config.KindLoki }

func (p *panickingProber) Probe(ctx context.Context) probe.Outcome {
	panic("unexpected nil response")
}

type fakeDispatcher struct {
	messages []notify.Message
	result   notify.DispatchResult
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, msg notify.Message) notify.DispatchResult {
	d.messages = append(d.messages, msg)
	if d.result.Status == "" {
		return notify.DispatchResult{Status: notify.DispatchDelivered, Attempts: 1}
	}
	return d.result
}

func testConfig(threshold int) *config.Config {
	return &config.Config{
		Instances: []config.InstanceConfig{
			{Kind: config.KindLoki, URL: "http://db1:3100", Name: "Loki"},
		},
		DiscordWebhookURL: "https://discord.com/api/webhooks/1/x",
		CheckIntervalSec:  120,
		FailureThreshold:  threshold,
		RequestTimeoutSec: 10,
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, probers []probe.Prober, dispatcher MessageDispatcher, opts ...Option) *Runner {
	t.Helper()
	opts = append(opts, WithHost("monitor1"))
	runner, err := NewRunner(cfg, probers, dispatcher, opts...)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	return runner
}

func TestRunnerDispatchesAlertAtThreshold(t *testing.T) {
	prober := &fakeProber{name: "Loki", kind: config.KindLoki, outcomes: []probe.Outcome{
		{Reason: "connection error: dial tcp: refused"},
	}}
	dispatcher := &fakeDispatcher{}
	runner := newTestRunner(t, testConfig(2), []probe.Prober{prober}, dispatcher)

	out, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Transitions != 0 || len(dispatcher.messages) != 0 {
		t.Fatalf("expected no transition below threshold, got %+v", out)
	}

	out, err = runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Transitions != 1 {
		t.Fatalf("expected one transition at threshold, got %d", out.Transitions)
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(dispatcher.messages))
	}
	if dispatcher.messages[0].Kind != notify.KindAlert {
		t.Fatalf("expected alert message, got %s", dispatcher.messages[0].Kind)
	}
	if result := out.Results[0]; result.Dispatch == nil || !result.Dispatch.Delivered() {
		t.Fatalf("expected delivery recorded on the result, got %+v", result.Dispatch)
	}
}

func TestRunnerDoesNotRepeatAlerts(t *testing.T) {
	prober := &fakeProber{name: "Loki", kind: config.KindLoki, outcomes: []probe.Outcome{
		{Reason: "HTTP 503 from http://db1:3100/ready"},
	}}
	dispatcher := &fakeDispatcher{}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{prober}, dispatcher)

	for i := 0; i < 5; i++ {
		if _, err := runner.RunOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d: unexpected error: %v", i, err)
		}
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected a single alert for a persisting failure, got %d", len(dispatcher.messages))
	}
}

func TestRunnerDispatchesRecovery(t *testing.T) {
	prober := &fakeProber{name: "Grafana", kind: config.KindGrafana, outcomes: []probe.Outcome{
		{Reason: "HTTP 502 from http://graf:3000/api/health"},
		{Healthy: true},
	}}
	dispatcher := &fakeDispatcher{}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{prober}, dispatcher)

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dispatcher.messages) != 2 {
		t.Fatalf("expected alert then recovery, got %d messages", len(dispatcher.messages))
	}
	if dispatcher.messages[1].Kind != notify.KindRecovery {
		t.Fatalf("expected recovery message, got %s", dispatcher.messages[1].Kind)
	}
	if state := runner.States()["Grafana"]; state.Health != track.Healthy {
		t.Fatalf("expected healthy state after recovery, got %+v", state)
	}
}

func TestRunnerContainsProberPanic(t *testing.T) {
	bad := &panickingProber{name: "Loki"}
	good := &fakeProber{name: "Grafana", kind: config.KindGrafana}
	dispatcher := &fakeDispatcher{}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{bad, good}, dispatcher)

	out, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected both instances checked, got %d results", len(out.Results))
	}

	panicked := out.Results[0]
	if !panicked.Panicked {
		t.Fatal("expected panic to be recorded")
	}
	if !strings.Contains(panicked.Outcome.Reason, "probe panicked") {
		t.Fatalf("unexpected reason %q", panicked.Outcome.Reason)
	}
	if good.calls != 1 {
		t.Fatal("expected the healthy instance to still be probed")
	}

	// A panicked probe skips the instance for the cycle: the state machine
	// never sees it, so repeated panics do not accumulate into an alert.
	for i := 0; i < 3; i++ {
		if _, err := runner.RunOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d: unexpected error: %v", i, err)
		}
	}
	if state := runner.States()["Loki"]; state.Health != track.Healthy || state.ConsecutiveFailures != 0 {
		t.Fatalf("expected state untouched by panicking probes, got %+v", state)
	}
	if len(dispatcher.messages) != 0 {
		t.Fatalf("expected no notifications from panicking probes, got %d", len(dispatcher.messages))
	}
}

type panickingDispatcher struct {
	calls int
}

func (d *panickingDispatcher) Dispatch(ctx context.Context, msg notify.Message) notify.DispatchResult {
	d.calls++
	panic("nil pointer in webhook client")
}

func TestRunnerContainsDispatcherPanic(t *testing.T) {
	first := &fakeProber{name: "Loki", kind: config.KindLoki, outcomes: []probe.Outcome{
		{Reason: "connection error: dial tcp: refused"},
	}}
	second := &fakeProber{name: "Grafana", kind: config.KindGrafana}
	dispatcher := &panickingDispatcher{}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{first, second}, dispatcher)

	out, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected both instances checked, got %d results", len(out.Results))
	}
	if second.calls != 1 {
		t.Fatal("expected the second instance to still be probed after the dispatch panic")
	}

	panicked := out.Results[0]
	if !panicked.Panicked {
		t.Fatal("expected panic to be recorded")
	}
	if panicked.Dispatch != nil {
		t.Fatalf("expected no dispatch result, got %+v", panicked.Dispatch)
	}
	// The transition was committed before the dispatch panicked and is never
	// rolled back, so the next cycle does not re-alert.
	if state := runner.States()["Loki"]; state.Health != track.Unhealthy {
		t.Fatalf("expected committed unhealthy state, got %+v", state)
	}
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected no further dispatches for the persisting condition, got %d", dispatcher.calls)
	}
}

func TestRunnerSurvivesFailedDispatch(t *testing.T) {
	first := &fakeProber{name: "Loki", kind: config.KindLoki, outcomes: []probe.Outcome{
		{Reason: "request timed out after 10s"},
	}}
	second := &fakeProber{name: "Grafana", kind: config.KindGrafana}
	dispatcher := &fakeDispatcher{result: notify.DispatchResult{
		Status:   notify.DispatchFailed,
		Attempts: 3,
		Reason:   "webhook returned 500",
	}}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{first, second}, dispatcher)

	out, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.calls != 1 {
		t.Fatal("expected the second instance to be checked despite a failed dispatch")
	}
	if result := out.Results[0]; result.Dispatch == nil || result.Dispatch.Delivered() {
		t.Fatalf("expected failed dispatch on the result, got %+v", result.Dispatch)
	}
	// The state transition stands even when the notification could not be
	// delivered, so the next cycle does not re-alert.
	if state := runner.States()["Loki"]; state.Health != track.Unhealthy {
		t.Fatalf("expected unhealthy state, got %+v", state)
	}
}

func TestRunnerStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := &fakeProber{name: "Loki", kind: config.KindLoki}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{prober}, &fakeDispatcher{})

	if _, err := runner.RunOnce(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if prober.calls != 0 {
		t.Fatalf("expected no probes after cancellation, got %d", prober.calls)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	prober := &fakeProber{name: "Loki", kind: config.KindLoki}
	dispatcher := &fakeDispatcher{}

	if _, err := NewRunner(nil, []probe.Prober{prober}, dispatcher); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewRunner(testConfig(1), nil, dispatcher); err == nil {
		t.Fatal("expected error for empty probers")
	}
	if _, err := NewRunner(testConfig(1), []probe.Prober{prober}, nil); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
}

func TestRunnerUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prober := &fakeProber{name: "Loki", kind: config.KindLoki, outcomes: []probe.Outcome{
		{Reason: "connection error: dial tcp: refused"},
	}}
	dispatcher := &fakeDispatcher{}
	runner := newTestRunner(t, testConfig(1), []probe.Prober{prober}, dispatcher,
		WithTimeSource(func() time.Time { return fixed }))

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(dispatcher.messages))
	}
	if got := dispatcher.messages[0].Timestamp; !got.Equal(fixed) {
		t.Fatalf("expected injected timestamp %s, got %s", fixed, got)
	}
}
