package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisQueue struct {
	cli    *redis.Client
	stream string
}

const redisMaxLen = 100000

// NewRedis publishes ingest events onto a capped redis stream.
func NewRedis(url, stream string) Queue {
	opt, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("analytics redis url invalid, using noop", "error", err)
		return NewNoop()
	}
	if stream == "" {
		stream = "analytics:ingest"
	}
	return &redisQueue{cli: redis.NewClient(opt), stream: stream}
}

func (q *redisQueue) Close() error { return q.cli.Close() }

func (q *redisQueue) PublishIngest(evt map[string]any) error {
	// Single 'data' field with a JSON body keeps the stream schema-flexible.
	b, _ := json.Marshal(evt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return q.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: redisMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(b)},
	}).Err()
}
