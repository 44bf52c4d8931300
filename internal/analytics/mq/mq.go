// Package mq publishes ingestion-run summary events for downstream
// analytics consumers. The publisher is selected by configuration:
// none (default), redis stream, or kafka topic.
package mq

import (
	"log/slog"
	"strings"
)

type Queue interface {
	PublishIngest(evt map[string]any) error
	Close() error
}

type noopQueue struct{}

func NewNoop() Queue                                { return noopQueue{} }
func (noopQueue) PublishIngest(map[string]any) error { return nil }
func (noopQueue) Close() error                       { return nil }

// FromConfig selects a publisher. Unknown drivers fall back to noop with
// a log line rather than failing startup.
func FromConfig(driver, redisURL, stream string, kafkaBrokers []string, kafkaTopic string) Queue {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return NewNoop()
	case "redis":
		return NewRedis(redisURL, stream)
	case "kafka":
		return NewKafka(kafkaBrokers, kafkaTopic)
	default:
		slog.Warn("unknown analytics mq driver, using noop", "driver", driver)
		return NewNoop()
	}
}
