// Package notify delivers post-commit workflow notifications. Delivery is
// fire-and-forget: failures are logged and counted, never returned to the
// workflow caller.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caseline/internal/domain"
	"caseline/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Dispatcher is the notification collaborator consumed by the engine.
type Dispatcher interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

// EventType is the "<kind>.<transition>" name used for filtering and headers.
func EventType(n domain.Notification) string {
	return string(n.Kind) + "." + n.Transition
}

func encode(n domain.Notification) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		domain.Notification
	}{Type: EventType(n), Notification: n})
}

// Fanout delivers to every sink in order on the calling goroutine. Each
// delivery gets its own timeout and is detached from the caller's
// cancellation. Put a Queue in front of it to keep it off the workflow path.
type Fanout struct {
	Sinks   []Sink
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

func (f Fanout) Notify(ctx context.Context, n domain.Notification) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := context.WithoutCancel(ctx)
	for _, s := range f.Sinks {
		dctx, cancel := context.WithTimeout(base, timeout)
		err := s.Deliver(dctx, n)
		cancel()
		if err != nil {
			f.Metrics.IncrementNotification(s.Name(), "error")
			f.Log.Warn().Err(err).Str("sink", s.Name()).Str("kind", string(n.Kind)).
				Str("record_id", n.RecordID).Str("transition", n.Transition).Msg("notification delivery failed")
			continue
		}
		f.Metrics.IncrementNotification(s.Name(), "ok")
	}
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, n domain.Notification) error {
	s.Log.Info().Str("type", EventType(n)).Str("record_id", n.RecordID).
		Str("actor", n.Actor).Time("at", n.Timestamp).Msg("notification")
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, domain.Notification) {}

// Recorder keeps notifications in memory for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Deliver(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Notify(ctx context.Context, n domain.Notification) {
	_ = r.Deliver(ctx, n)
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}
