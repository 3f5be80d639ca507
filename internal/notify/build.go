package notify

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"caseline/internal/config"
	"caseline/internal/metrics"
)

// FromConfig assembles the configured sinks behind one Fanout. The log sink
// is always present. The returned closer releases broker clients.
func FromConfig(cfg config.Notifications, log zerolog.Logger, m *metrics.Metrics) (Fanout, io.Closer, error) {
	f := Fanout{Log: log, Metrics: m, Sinks: []Sink{LogSink{Log: log}}}
	var closers closerList
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		f.Sinks = append(f.Sinks, NewWebhookSink(hook))
	}
	if cfg.Redis.URL != "" {
		s, err := NewRedisSink(cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			closers.Close()
			return Fanout{}, nil, err
		}
		f.Sinks = append(f.Sinks, s)
		closers = append(closers, s)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		s, err := NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, 0)
		if err != nil {
			closers.Close()
			return Fanout{}, nil, err
		}
		f.Sinks = append(f.Sinks, s)
		closers = append(closers, s)
	}
	return f, closers, nil
}

type closerList []io.Closer

func (c closerList) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
