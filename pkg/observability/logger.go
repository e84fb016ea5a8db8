package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger emits structured events to an underlying sink.
type Logger interface {
	Log(context.Context, Event) error
}

// LoggerFunc adapts a function into a Logger.
type LoggerFunc func(context.Context, Event) error

// Log implements Logger.
func (f LoggerFunc) Log(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// JSONLogger writes each event as a single JSON object on its own line.
// Events below the configured minimum level are dropped.
type JSONLogger struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel Level
	now      func() time.Time
}

// JSONLoggerOption customises a JSONLogger.
type JSONLoggerOption func(*JSONLogger)

// WithMinLevel sets the lowest severity that will be written.
func WithMinLevel(level Level) JSONLoggerOption {
	return func(l *JSONLogger) {
		l.minLevel = level
	}
}

// NewJSONLogger builds a JSONLogger writing to the provided io.Writer.
func NewJSONLogger(w io.Writer, opts ...JSONLoggerOption) *JSONLogger {
	logger := &JSONLogger{w: w, minLevel: LevelInfo, now: time.Now}
	for _, opt := range opts {
		opt(logger)
	}
	return logger
}

// Log implements Logger by emitting a JSON representation of the event.
func (l *JSONLogger) Log(_ context.Context, event Event) error {
	if l == nil || l.w == nil {
		return fmt.Errorf("json logger is not configured")
	}

	if event.Level.rank() < l.minLevel.rank() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := l.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}
