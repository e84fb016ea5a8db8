package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siyamsarker/argus/pkg/observability"
)

// DispatchStatus is the terminal outcome of a dispatch.
type DispatchStatus string

const (
	// DispatchDelivered means the notifier accepted the message.
	DispatchDelivered DispatchStatus = "delivered"
	// DispatchFailed means every attempt was exhausted or the transport
	// reported a permanent failure.
	DispatchFailed DispatchStatus = "failed_permanently"
)

// DispatchResult summarises a dispatch: how it ended, after how many
// attempts, and why it failed if it did.
type DispatchResult struct {
	Status   DispatchStatus
	Attempts int
	Reason   string
}

// Delivered reports whether the message reached the transport.
func (r DispatchResult) Delivered() bool { return r.Status == DispatchDelivered }

// Reporter consumes dispatch events and metrics for logging or aggregation.
type Reporter interface {
	RecordEvent(context.Context, observability.Event)
	RecordMetric(observability.Metric)
}

type noopReporter struct{}

func (noopReporter) RecordEvent(context.Context, observability.Event) {}
func (noopReporter) RecordMetric(observability.Metric)                {}

// Dispatcher wraps a Notifier with bounded retries, exponential backoff and
// rate-limit compliance. A failed dispatch is reported, never raised: the
// polling loop must survive any delivery outcome.
type Dispatcher struct {
	notifier         Notifier
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	maxRateLimitWait time.Duration
	sleep            func(time.Duration)
	reporter         Reporter
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts bounds the number of delivery attempts per dispatch.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoffBounds sets the exponential backoff window between transient failures.
func WithBackoffBounds(base, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseDelay = base
		}
		if max > 0 {
			d.maxDelay = max
		}
	}
}

// WithMaxRateLimitWait caps how long a server-specified rate-limit wait is honoured.
func WithMaxRateLimitWait(max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if max > 0 {
			d.maxRateLimitWait = max
		}
	}
}

// WithSleepFunc overrides the sleep implementation used for backoff waits.
func WithSleepFunc(fn func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// WithReporter attaches an observability reporter to the dispatcher.
func WithReporter(rep Reporter) DispatcherOption {
	return func(d *Dispatcher) {
		if rep != nil {
			d.reporter = rep
		}
	}
}

// NewDispatcher constructs a Dispatcher around the provided notifier.
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) (*Dispatcher, error) {
	if notifier == nil {
		return nil, errors.New("notifier must not be nil")
	}

	dispatcher := &Dispatcher{
		notifier:         notifier,
		maxAttempts:      3,
		baseDelay:        time.Second,
		maxDelay:         30 * time.Second,
		maxRateLimitWait: time.Minute,
		sleep:            time.Sleep,
		reporter:         noopReporter{},
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	if dispatcher.maxDelay < dispatcher.baseDelay {
		dispatcher.maxDelay = dispatcher.baseDelay
	}
	return dispatcher, nil
}

// Dispatch delivers the message with up to maxAttempts tries. Transient
// failures wait out an exponential backoff; a rate-limited attempt waits
// exactly the server-specified duration (capped) without advancing the
// exponential schedule; permanent failures stop immediately. All waits are
// cut short by context cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) DispatchResult {
	if ctx == nil {
		ctx = context.Background()
	}

	delay := d.baseDelay
	var lastDetail string

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res := d.notifier.Send(ctx, msg)
		d.recordAttempt(ctx, msg, attempt, res)

		switch res.Status {
		case SendOK:
			result := DispatchResult{Status: DispatchDelivered, Attempts: attempt}
			d.recordOutcome(ctx, msg, result)
			return result
		case SendPermanent:
			result := DispatchResult{Status: DispatchFailed, Attempts: attempt, Reason: res.Detail}
			d.recordOutcome(ctx, msg, result)
			return result
		}

		lastDetail = res.Detail
		if lastDetail == "" && res.Status == SendRateLimited {
			lastDetail = "rate limited"
		}
		if attempt == d.maxAttempts {
			break
		}

		wait := delay
		if res.Status == SendRateLimited {
			wait = res.RetryAfter
			if wait <= 0 {
				wait = delay
			}
			if wait > d.maxRateLimitWait {
				wait = d.maxRateLimitWait
			}
		} else {
			delay *= 2
			if delay > d.maxDelay {
				delay = d.maxDelay
			}
		}

		d.recordBackoff(ctx, msg, attempt, res.Status, wait)
		if err := d.sleepWithContext(ctx, wait); err != nil {
			result := DispatchResult{
				Status:   DispatchFailed,
				Attempts: attempt,
				Reason:   fmt.Sprintf("interrupted during retry wait: %v", err),
			}
			d.recordOutcome(ctx, msg, result)
			return result
		}
	}

	result := DispatchResult{Status: DispatchFailed, Attempts: d.maxAttempts, Reason: lastDetail}
	d.recordOutcome(ctx, msg, result)
	return result
}

func (d *Dispatcher) sleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.sleep(duration)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Dispatcher) recordAttempt(ctx context.Context, msg Message, attempt int, res SendResult) {
	level := observability.LevelDebug
	fields := map[string]interface{}{
		"notifier": d.notifier.Name(),
		"kind":     string(msg.Kind),
		"attempt":  attempt,
		"status":   string(res.Status),
	}
	if res.Detail != "" {
		fields["detail"] = res.Detail
	}
	switch res.Status {
	case SendRateLimited:
		level = observability.LevelWarn
		fields["retry_after_ms"] = res.RetryAfter.Milliseconds()
	case SendTransient, SendPermanent:
		level = observability.LevelWarn
	}

	d.reporter.RecordMetric(observability.Metric{
		Name:        "dispatch_attempts_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"notifier": d.notifier.Name(), "status": string(res.Status)},
		Description: "Number of notification delivery attempts grouped by transport status.",
	})

	d.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "dispatch_attempt",
		Fields: fields,
	})
}

func (d *Dispatcher) recordBackoff(ctx context.Context, msg Message, attempt int, status SendStatus, wait time.Duration) {
	d.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Event: "dispatch_backoff",
		Fields: map[string]interface{}{
			"notifier": d.notifier.Name(),
			"kind":     string(msg.Kind),
			"attempt":  attempt,
			"status":   string(status),
			"wait_ms":  wait.Milliseconds(),
		},
	})
}

func (d *Dispatcher) recordOutcome(ctx context.Context, msg Message, result DispatchResult) {
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"notifier": d.notifier.Name(),
		"kind":     string(msg.Kind),
		"attempts": result.Attempts,
		"status":   string(result.Status),
	}
	if result.Reason != "" {
		fields["reason"] = result.Reason
	}
	if !result.Delivered() {
		level = observability.LevelError
	}

	d.reporter.RecordMetric(observability.Metric{
		Name:        "notifications_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"kind": string(msg.Kind), "status": string(result.Status)},
		Description: "Number of dispatched notifications grouped by kind and outcome.",
	})

	d.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "dispatch_outcome",
		Fields: fields,
	})
}
