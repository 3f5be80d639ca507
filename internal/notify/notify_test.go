package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/metrics"
	"caseline/internal/notify"
)

var approved = domain.Notification{
	Kind:       domain.KindCertificate,
	RecordID:   "c1",
	Transition: "approved",
	Actor:      "cap-1",
	Timestamp:  time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
}

func TestWebhookSinkPostsMatchingEvents(t *testing.T) {
	var hits atomic.Int32
	var got map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := notify.NewWebhookSink(config.WebhookConfig{URL: srv.URL, Events: []string{"certificate.*"}, Secret: "s3"})
	require.NoError(t, sink.Deliver(context.Background(), approved))
	require.NoError(t, sink.Deliver(context.Background(), domain.Notification{Kind: domain.KindBlotter, RecordID: "b1", Transition: "approved"}))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "certificate.approved", headers.Get("X-Caseline-Event"))
	assert.Equal(t, "s3", headers.Get("X-Caseline-Secret"))
	assert.NotEmpty(t, headers.Get("X-Caseline-Delivery"))
	assert.Equal(t, "certificate.approved", got["type"])
	assert.Equal(t, "c1", got["record_id"])
}

func TestWebhookSinkReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhookSink(config.WebhookConfig{URL: srv.URL}).Deliver(context.Background(), approved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Deliver(context.Context, domain.Notification) error {
	return assert.AnError
}

func TestFanoutSwallowsFailuresAndKeepsDelivering(t *testing.T) {
	var logs bytes.Buffer
	rec := &notify.Recorder{}
	m := metrics.New(prometheus.NewRegistry())
	f := notify.Fanout{
		Sinks:   []notify.Sink{failingSink{}, rec},
		Log:     zerolog.New(&logs),
		Metrics: m,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Notify(ctx, approved)

	require.Len(t, rec.Sent(), 1)
	assert.Equal(t, approved, rec.Sent()[0])
	assert.Contains(t, logs.String(), "notification delivery failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("failing", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("recorder", "ok")))
}

func TestBrokerSinksFailWithoutBroker(t *testing.T) {
	var logs bytes.Buffer
	redisSink, err := notify.NewRedisSink("redis://127.0.0.1:1/0", "")
	require.NoError(t, err)
	defer redisSink.Close()
	kafkaSink, err := notify.NewKafkaSink([]string{"127.0.0.1:1"}, "caseline", 200*time.Millisecond)
	require.NoError(t, err)
	defer kafkaSink.Close()

	f := notify.Fanout{Sinks: []notify.Sink{redisSink, kafkaSink}, Log: zerolog.New(&logs), Timeout: 500 * time.Millisecond}
	assert.NotPanics(t, func() { f.Notify(context.Background(), approved) })
	assert.Contains(t, logs.String(), `"sink":"redis"`)
	assert.Contains(t, logs.String(), `"sink":"kafka"`)
}

func TestFromConfigSkipsDisabledHooks(t *testing.T) {
	off := false
	cfg := config.Notifications{Webhooks: []config.WebhookConfig{
		{URL: "http://example.invalid/a"},
		{URL: "http://example.invalid/b", Enabled: &off},
	}}
	f, closer, err := notify.FromConfig(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer closer.Close()
	require.Len(t, f.Sinks, 2)
	assert.Equal(t, "log", f.Sinks[0].Name())
	assert.Equal(t, "webhook", f.Sinks[1].Name())
}

type blockingSink struct {
	gate chan struct{}
	rec  *notify.Recorder
}

func (b blockingSink) Name() string { return "blocking" }

func (b blockingSink) Deliver(ctx context.Context, n domain.Notification) error {
	<-b.gate
	return b.rec.Deliver(ctx, n)
}

func TestQueueDeliversOffThePathAndDrainsOnClose(t *testing.T) {
	gate := make(chan struct{})
	rec := &notify.Recorder{}
	var logs bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	q := notify.NewQueue(notify.Fanout{Sinks: []notify.Sink{blockingSink{gate: gate, rec: rec}}}, 2, zerolog.New(&logs), m)

	start := time.Now()
	for i := 0; i < 4; i++ {
		q.Notify(context.Background(), approved)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(gate)
	require.NoError(t, q.Close())
	// one in flight plus a buffer of two; at least the fourth was dropped
	sent := len(rec.Sent())
	assert.GreaterOrEqual(t, sent, 2)
	assert.LessOrEqual(t, sent, 3)
	assert.Equal(t, float64(4-sent), testutil.ToFloat64(m.Notifications.WithLabelValues("queue", "dropped")))

	q.Notify(context.Background(), approved)
	assert.Len(t, rec.Sent(), sent)
	assert.Contains(t, logs.String(), "queue closed")
	require.NoError(t, q.Close())
}
