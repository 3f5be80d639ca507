package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"caseline/internal/domain"
	"caseline/internal/metrics"
)

const defaultQueueSize = 256

// Queue hands notifications to a background worker so sink delivery never
// runs on the workflow caller's path. When the buffer is full the
// notification is dropped and counted.
type Queue struct {
	next    Dispatcher
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	ch     chan domain.Notification
	done   chan struct{}
}

// NewQueue starts the worker. Close must be called to drain it.
func NewQueue(next Dispatcher, size int, log zerolog.Logger, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &Queue{
		next:    next,
		log:     log,
		metrics: m,
		ch:      make(chan domain.Notification, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for n := range q.ch {
		q.next.Notify(context.Background(), n)
	}
}

func (q *Queue) Notify(_ context.Context, n domain.Notification) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(n, "queue closed")
		return
	}
	select {
	case q.ch <- n:
	default:
		q.drop(n, "queue full")
	}
}

func (q *Queue) drop(n domain.Notification, reason string) {
	q.metrics.IncrementNotification("queue", "dropped")
	q.log.Warn().Str("reason", reason).Str("type", EventType(n)).Str("record_id", n.RecordID).Msg("notification dropped")
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}
