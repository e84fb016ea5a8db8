package notify

import (
	"context"
	"time"
)

// SendStatus categorises the outcome of a single transport attempt.
type SendStatus string

const (
	// SendOK means the payload was accepted.
	SendOK SendStatus = "ok"
	// SendTransient covers network errors and retryable server responses.
	SendTransient SendStatus = "transient"
	// SendPermanent covers responses that will not succeed on retry,
	// such as a deleted or unauthorised webhook.
	SendPermanent SendStatus = "permanent"
	// SendRateLimited means the server asked us to wait before retrying.
	SendRateLimited SendStatus = "rate_limited"
)

// SendResult reports how a transport attempt ended. RetryAfter is only set
// for rate-limited results.
type SendResult struct {
	Status     SendStatus
	RetryAfter time.Duration
	Detail     string
}

// MessageKind selects the notification styling.
type MessageKind string

const (
	// KindAlert announces an instance going down.
	KindAlert MessageKind = "alert"
	// KindRecovery announces an instance coming back.
	KindRecovery MessageKind = "recovery"
	// KindStartup announces the daemon starting to watch.
	KindStartup MessageKind = "startup"
)

// Field is one labelled value rendered inside a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a transport-agnostic notification payload.
type Message struct {
	Kind        MessageKind
	Title       string
	Description string
	Fields      []Field
	Timestamp   time.Time
}

// Notifier delivers a notification over some transport. Implementations
// report failures as result values so the dispatcher can decide whether to
// retry; they never return Go errors for expected delivery problems.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) SendResult
}
