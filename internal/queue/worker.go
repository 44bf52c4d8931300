package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/gameinsight/gameinsight/internal/ingest"
)

// Worker consumes the task stream and executes ingestion handlers.
// Delivery is at-least-once; a task whose handler fails is recorded as
// FAILURE and acknowledged, since the catalog client already retries
// internally and re-running a failed ingest would double-fetch.
type Worker struct {
	cli     *Client
	reg     *ingest.Registry
	name    string
	results taskResults
}

// taskResults is the slice of the result store the execution path
// writes through.
type taskResults interface {
	isRevoked(ctx context.Context, id string) bool
	markRevoked(ctx context.Context, id string)
	markStarted(ctx context.Context, id, worker string)
	markSuccess(ctx context.Context, id string, result any)
	markFailure(ctx context.Context, id, errMsg string)
}

func NewWorker(cli *Client, reg *ingest.Registry, name string) *Worker {
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return &Worker{cli: cli, reg: reg, name: name, results: cli}
}

func (w *Worker) ensureGroup(ctx context.Context) {
	// "0" so a backlog enqueued before the first worker is not skipped
	_ = w.cli.rdb.XGroupCreateMkStream(ctx, w.cli.stream, w.cli.group, "0").Err()
}

func (w *Worker) workerKey() string { return workerKeyPrefix + w.name }

func (w *Worker) heartbeat(ctx context.Context, taskID, function string) {
	w.cli.rdb.HSet(ctx, w.workerKey(),
		"name", w.name,
		"current_task", taskID,
		"function", function,
		"seen_at", time.Now().UTC().Format(time.RFC3339),
	)
	w.cli.rdb.Expire(ctx, w.workerKey(), heartbeatTTL)
}

// Run blocks until ctx is cancelled or a shutdown broadcast arrives.
func (w *Worker) Run(ctx context.Context) error {
	w.ensureGroup(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// control channel: ping refreshes the heartbeat, shutdown stops the loop
	sub := w.cli.rdb.Subscribe(ctx, controlChannel)
	defer sub.Close()
	go func() {
		for msg := range sub.Channel() {
			switch msg.Payload {
			case "ping":
				w.heartbeat(ctx, "", "")
			case "shutdown":
				slog.Info("shutdown broadcast received", "worker", w.name)
				cancel()
			default:
				slog.Warn("unknown control command", "command", msg.Payload)
			}
		}
	}()

	// periodic heartbeat while idle
	go func() {
		tk := time.NewTicker(heartbeatTTL / 3)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				w.heartbeat(ctx, "", "")
			}
		}
	}()

	slog.Info("worker started", "worker", w.name, "stream", w.cli.stream, "group", w.cli.group)
	for {
		if ctx.Err() != nil {
			w.cli.rdb.Del(context.Background(), w.workerKey())
			return ctx.Err()
		}
		res, err := w.cli.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cli.group,
			Consumer: w.name,
			Streams:  []string{w.cli.stream, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Warn("xreadgroup", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				w.handle(ctx, msg)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	defer w.cli.rdb.XAck(ctx, w.cli.stream, w.cli.group, msg.ID)

	t, ok := decodeTask(msg)
	if !ok {
		slog.Warn("malformed task entry dropped", "stream_id", msg.ID)
		return
	}
	w.heartbeat(ctx, t.ID, t.Function)
	defer w.heartbeat(ctx, "", "")
	w.execute(ctx, &t)
}

// execute drives one task through the result-store state machine:
// revoked tasks are skipped before start, unknown functions and handler
// errors or panics land as FAILURE.
func (w *Worker) execute(ctx context.Context, t *Task) {
	if w.results.isRevoked(ctx, t.ID) {
		slog.Info("task revoked, skipping", "task_id", t.ID, "function", t.Function)
		w.results.markRevoked(ctx, t.ID)
		return
	}
	handler, ok := w.reg.Lookup(t.Function)
	if !ok {
		slog.Error("unknown task function", "task_id", t.ID, "function", t.Function)
		w.results.markFailure(ctx, t.ID, fmt.Sprintf("unknown function %q", t.Function))
		return
	}

	w.results.markStarted(ctx, t.ID, w.name)
	slog.Info("task started", "task_id", t.ID, "function", t.Function)
	result, err := w.runSafely(ctx, handler, t)
	if err != nil {
		slog.Error("task failed", "task_id", t.ID, "function", t.Function, "error", err)
		w.results.markFailure(ctx, t.ID, err.Error())
		return
	}
	w.results.markSuccess(ctx, t.ID, result)
	if b, jerr := json.Marshal(result); jerr == nil {
		slog.Info("task succeeded", "task_id", t.ID, "function", t.Function, "result", string(b))
	}
}

func (w *Worker) runSafely(ctx context.Context, h ingest.Handler, t *Task) (res ingest.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			slog.Error("task panicked", "task_id", t.ID, "stack", string(debug.Stack()))
		}
	}()
	return h(ctx, t.Args, t.Kwargs)
}
