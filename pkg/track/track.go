package track

import (
	"time"

	"github.com/siyamsarker/argus/pkg/probe"
)

// Health classifies a monitored instance.
type Health string

const (
	// Healthy means the instance is serving its health endpoint.
	Healthy Health = "healthy"
	// Unhealthy means the instance failed at least threshold consecutive checks.
	Unhealthy Health = "unhealthy"
)

// State tracks the classification and consecutive-failure count for one
// monitored instance across polling cycles.
type State struct {
	Health              Health
	ConsecutiveFailures int
	LastReason          string
}

// NewState returns the optimistic initial state: instances are assumed
// healthy until the failure threshold proves otherwise, so startup never
// fires an alert before threshold consecutive failures are observed.
func NewState() State {
	return State{Health: Healthy}
}

// EventKind distinguishes the two transition directions.
type EventKind string

const (
	// EventAlert marks a healthy to unhealthy transition.
	EventAlert EventKind = "alert"
	// EventRecovery marks an unhealthy to healthy transition.
	EventRecovery EventKind = "recovery"
)

// Event is emitted when an instance crosses a health transition. It is a
// transient value consumed by the notification dispatcher and never stored.
type Event struct {
	Kind      EventKind
	Instance  string
	Previous  Health
	Current   Health
	Reason    string
	Failures  int
	Timestamp time.Time
}

// Evaluate folds one probe outcome into the instance state and reports a
// transition event when the classification changes. It is pure: the caller
// owns the state and supplies the clock.
//
// A success resets the failure counter and recovers an unhealthy instance.
// A failure increments the counter and flips a healthy instance to
// unhealthy once the counter reaches threshold; while the instance stays
// unhealthy, further failures never produce another event, which is what
// prevents repeat alerts for a persisting condition.
func Evaluate(instance string, state State, outcome probe.Outcome, threshold int, now time.Time) (State, *Event) {
	if outcome.Healthy {
		state.ConsecutiveFailures = 0
		if state.Health == Unhealthy {
			state.Health = Healthy
			state.LastReason = ""
			return state, &Event{
				Kind:      EventRecovery,
				Instance:  instance,
				Previous:  Unhealthy,
				Current:   Healthy,
				Timestamp: now,
			}
		}
		return state, nil
	}

	state.ConsecutiveFailures++
	state.LastReason = outcome.Reason
	if state.Health == Healthy && state.ConsecutiveFailures >= threshold {
		state.Health = Unhealthy
		return state, &Event{
			Kind:      EventAlert,
			Instance:  instance,
			Previous:  Healthy,
			Current:   Unhealthy,
			Reason:    outcome.Reason,
			Failures:  state.ConsecutiveFailures,
			Timestamp: now,
		}
	}
	return state, nil
}
