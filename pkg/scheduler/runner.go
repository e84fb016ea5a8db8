package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/siyamsarker/argus/pkg/config"
	"github.com/siyamsarker/argus/pkg/notify"
	"github.com/siyamsarker/argus/pkg/observability"
	"github.com/siyamsarker/argus/pkg/probe"
	"github.com/siyamsarker/argus/pkg/track"
)

// MessageDispatcher abstracts reliable notification delivery for the runner.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) notify.DispatchResult
}

// InstanceResult captures what happened to one instance during a cycle.
type InstanceResult struct {
	Instance   string
	Kind       string
	Outcome    probe.Outcome
	State      track.State
	Transition *track.Event
	Dispatch   *notify.DispatchResult
	Panicked   bool
}

// CycleOutcome summarises a single polling cycle across all instances.
type CycleOutcome struct {
	Results     []InstanceResult
	Transitions int
}

// Runner executes one polling cycle: probe every instance, fold the outcome
// into its health state, and dispatch a notification on each transition. It
// owns the per-instance state across cycles and is not safe for concurrent
// use; the loop drives it from a single goroutine.
type Runner struct {
	cfg        *config.Config
	probers    []probe.Prober
	dispatcher MessageDispatcher
	states     map[string]track.State
	host       string
	now        func() time.Time
	reporter   Reporter
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithHost overrides the hostname stamped into notifications and events.
func WithHost(host string) Option {
	return func(r *Runner) {
		if host != "" {
			r.host = host
		}
	}
}

// NewRunner constructs a Runner with the provided dependencies.
func NewRunner(cfg *config.Config, probers []probe.Prober, dispatcher MessageDispatcher, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if len(probers) == 0 {
		return nil, errors.New("at least one prober is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}

	runner := &Runner{
		cfg:        cfg,
		probers:    probers,
		dispatcher: dispatcher,
		states:     make(map[string]track.State, len(probers)),
		now:        time.Now,
		reporter:   NoopReporter{},
	}
	for _, prober := range probers {
		runner.states[prober.Name()] = track.NewState()
	}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.host == "" {
		runner.host, _ = os.Hostname()
	}
	if runner.now == nil {
		runner.now = time.Now
	}
	if runner.reporter == nil {
		runner.reporter = NoopReporter{}
	}

	return runner, nil
}

// States returns a snapshot of the current per-instance health states.
func (r *Runner) States() map[string]track.State {
	snapshot := make(map[string]track.State, len(r.states))
	for name, state := range r.states {
		snapshot[name] = state
	}
	return snapshot
}

// RunOnce polls every instance once. A probe failure, a panic during an
// instance's check, or an undeliverable notification only affects that
// instance's result; the remaining instances are still checked. The returned
// error is non-nil only when the context is cancelled mid-cycle.
func (r *Runner) RunOnce(ctx context.Context) (CycleOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var out CycleOutcome
	cycleStart := r.now()

	for _, prober := range r.probers {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		result := r.checkInstance(ctx, prober)
		out.Results = append(out.Results, result)
		if result.Transition != nil {
			out.Transitions++
		}
	}

	r.recordCycle(ctx, out, r.now().Sub(cycleStart))
	return out, nil
}

// checkInstance runs the full per-instance sequence with panic containment:
// a panic anywhere in probe, evaluation, or dispatch is recovered here so the
// remaining instances are still checked. A panic before evaluation leaves the
// instance's state untouched for that cycle; a panic after the state was
// committed stands, since transitions are never rolled back.
func (r *Runner) checkInstance(ctx context.Context, prober probe.Prober) (result InstanceResult) {
	name := prober.Name()
	result = InstanceResult{Instance: name, Kind: prober.Kind()}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		result.Panicked = true
		result.State = r.states[name]
		if result.Outcome == (probe.Outcome{}) {
			result.Outcome = probe.Outcome{Reason: fmt.Sprintf("probe panicked: %v", rec)}
		}
		r.recordPanic(ctx, name, rec)
	}()

	probeStart := r.now()
	result.Outcome = prober.Probe(ctx)
	r.recordProbe(ctx, result, r.now().Sub(probeStart))

	state, event := track.Evaluate(name, r.states[name], result.Outcome, r.cfg.FailureThreshold, r.now())
	r.states[name] = state
	result.State = state
	result.Transition = event

	if event != nil {
		r.recordTransition(ctx, *event)
		dispatch := r.dispatcher.Dispatch(ctx, r.buildMessage(*event))
		result.Dispatch = &dispatch
	}

	return result
}

func (r *Runner) buildMessage(event track.Event) notify.Message {
	if event.Kind == track.EventRecovery {
		return notify.RecoveryMessage(event, r.host)
	}
	return notify.AlertMessage(event, r.host)
}

func (r *Runner) recordProbe(ctx context.Context, result InstanceResult, duration time.Duration) {
	status := "healthy"
	level := observability.LevelDebug
	fields := map[string]interface{}{
		"instance":    result.Instance,
		"kind":        result.Kind,
		"healthy":     result.Outcome.Healthy,
		"duration_ms": duration.Milliseconds(),
	}

	if !result.Outcome.Healthy {
		status = "unhealthy"
		level = observability.LevelWarn
		fields["reason"] = result.Outcome.Reason
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "probes_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"instance": result.Instance, "result": status},
		Description: "Number of health probes grouped by instance and result.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "probe_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Labels:      map[string]string{"instance": result.Instance, "result": status},
		Description: "Latency of individual health probes.",
		Unit:        "seconds",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "probe_completed",
		Fields: fields,
	})
}

func (r *Runner) recordPanic(ctx context.Context, instance string, rec interface{}) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "instance_panics_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"instance": instance},
		Description: "Number of contained panics during per-instance checks.",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelError,
		Event: "instance_check_panicked",
		Fields: map[string]interface{}{
			"instance": instance,
			"panic":    fmt.Sprint(rec),
		},
	})
}

func (r *Runner) recordTransition(ctx context.Context, event track.Event) {
	level := observability.LevelWarn
	if event.Kind == track.EventRecovery {
		level = observability.LevelInfo
	}

	fields := map[string]interface{}{
		"instance": event.Instance,
		"previous": string(event.Previous),
		"current":  string(event.Current),
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.Failures > 0 {
		fields["consecutive_failures"] = event.Failures
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "transitions_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"instance": event.Instance, "kind": string(event.Kind)},
		Description: "Number of health transitions grouped by instance and direction.",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "health_transition",
		Fields: fields,
	})
}

func (r *Runner) recordCycle(ctx context.Context, out CycleOutcome, duration time.Duration) {
	unhealthy := 0
	for _, res := range out.Results {
		if res.State.Health == track.Unhealthy {
			unhealthy++
		}
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "cycles_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Description: "Number of completed polling cycles.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "cycle_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Description: "Wall-clock duration of polling cycles.",
		Unit:        "seconds",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Event: "cycle_completed",
		Fields: map[string]interface{}{
			"instances":   len(out.Results),
			"transitions": out.Transitions,
			"unhealthy":   unhealthy,
			"duration_ms": duration.Milliseconds(),
		},
	})
}
