// Package queue is the task queue between the API/scheduler process and
// the ingest worker processes. Tasks travel on a redis stream consumed
// through a consumer group (at-least-once); results land in per-task
// redis hashes polled by callers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Task states mirrored into the result store.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRevoked = "REVOKED"
)

const (
	streamMaxLen    = 10000
	workerKeyPrefix = "ingest:worker:"
	resultKeyPrefix = "ingest:result:"
	controlChannel  = "ingest:control"
	heartbeatTTL    = 15 * time.Second
)

// ErrNotFound is returned when a task id has no result entry (expired or
// never submitted).
var ErrNotFound = errors.New("queue: task not found")

// Task is the wire envelope submitted to the stream.
type Task struct {
	ID         string         `json:"id"`
	Function   string         `json:"function"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Status is the caller-visible view of one task execution.
type Status struct {
	ID         string          `json:"id"`
	State      string          `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Worker     string          `json:"worker,omitempty"`
	EnqueuedAt string          `json:"enqueued_at,omitempty"`
	StartedAt  string          `json:"started_at,omitempty"`
	FinishedAt string          `json:"finished_at,omitempty"`
}

// Submitter is the narrow interface the scheduler uses to fire tasks.
type Submitter interface {
	Enqueue(ctx context.Context, function string, args []any, kwargs map[string]any) (string, error)
}

type Client struct {
	rdb       *redis.Client
	stream    string
	group     string
	resultTTL time.Duration
}

func New(redisURL, stream, group string, resultTTL time.Duration) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: redis url: %w", err)
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &Client{rdb: redis.NewClient(opt), stream: stream, group: group, resultTTL: resultTTL}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) resultKey(id string) string { return resultKeyPrefix + id }

// Enqueue submits a task and seeds its PENDING result entry. The
// returned id is the handle for Status/Revoke.
func (c *Client) Enqueue(ctx context.Context, function string, args []any, kwargs map[string]any) (string, error) {
	t := Task{
		ID:         uuid.NewString(),
		Function:   function,
		Args:       args,
		Kwargs:     kwargs,
		EnqueuedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	key := c.resultKey(t.ID)
	if err := c.rdb.HSet(ctx, key,
		"state", StatePending,
		"function", function,
		"enqueued_at", t.EnqueuedAt.Format(time.RFC3339),
	).Err(); err != nil {
		return "", err
	}
	c.rdb.Expire(ctx, key, c.resultTTL)
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"task": string(b)},
	}).Err()
	if err != nil {
		// drop the seeded PENDING entry so Status does not report a
		// task that never reached the stream
		c.rdb.Del(ctx, key)
		return "", err
	}
	return t.ID, nil
}

// Status reads the result store for a task id.
func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	m, err := c.rdb.HGetAll(ctx, c.resultKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	st := &Status{
		ID:         id,
		State:      m["state"],
		Error:      m["error"],
		Worker:     m["worker"],
		EnqueuedAt: m["enqueued_at"],
		StartedAt:  m["started_at"],
		FinishedAt: m["finished_at"],
	}
	if r := m["result"]; r != "" {
		st.Result = json.RawMessage(r)
	}
	return st, nil
}

// Revoke flags a task so workers skip it. An execution already STARTED
// is not interrupted; the flag only gates the pickup.
func (c *Client) Revoke(ctx context.Context, id string) error {
	key := c.resultKey(id)
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return c.rdb.HSet(ctx, key, "revoked", "1").Err()
}

func (c *Client) isRevoked(ctx context.Context, id string) bool {
	v, err := c.rdb.HGet(ctx, c.resultKey(id), "revoked").Result()
	return err == nil && v == "1"
}

func (c *Client) markStarted(ctx context.Context, id, worker string) {
	key := c.resultKey(id)
	c.rdb.HSet(ctx, key,
		"state", StateStarted,
		"worker", worker,
		"started_at", time.Now().UTC().Format(time.RFC3339),
	)
	c.rdb.Expire(ctx, key, c.resultTTL)
}

func (c *Client) markSuccess(ctx context.Context, id string, result any) {
	b, _ := json.Marshal(result)
	key := c.resultKey(id)
	c.rdb.HSet(ctx, key,
		"state", StateSuccess,
		"result", string(b),
		"finished_at", time.Now().UTC().Format(time.RFC3339),
	)
	c.rdb.Expire(ctx, key, c.resultTTL)
}

func (c *Client) markFailure(ctx context.Context, id, errMsg string) {
	key := c.resultKey(id)
	c.rdb.HSet(ctx, key,
		"state", StateFailure,
		"error", errMsg,
		"finished_at", time.Now().UTC().Format(time.RFC3339),
	)
	c.rdb.Expire(ctx, key, c.resultTTL)
}

func (c *Client) markRevoked(ctx context.Context, id string) {
	c.rdb.HSet(ctx, c.resultKey(id),
		"state", StateRevoked,
		"finished_at", time.Now().UTC().Format(time.RFC3339),
	)
}

// Broadcast publishes a control command to every worker (ping, shutdown).
func (c *Client) Broadcast(ctx context.Context, command string) (int64, error) {
	return c.rdb.Publish(ctx, controlChannel, command).Result()
}

// WorkerInfo is one live worker as seen through its heartbeat key.
type WorkerInfo struct {
	Name        string `json:"name"`
	CurrentTask string `json:"current_task,omitempty"`
	Function    string `json:"function,omitempty"`
	SeenAt      string `json:"seen_at"`
}

// PingWorkers lists workers whose heartbeat key is still alive.
func (c *Client) PingWorkers(ctx context.Context) ([]WorkerInfo, error) {
	var out []WorkerInfo
	iter := c.rdb.Scan(ctx, 0, workerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		m, err := c.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		out = append(out, WorkerInfo{
			Name:        m["name"],
			CurrentTask: m["current_task"],
			Function:    m["function"],
			SeenAt:      m["seen_at"],
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
