package queue

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not-a-url", "s", "g", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewDefaultsResultTTL(t *testing.T) {
	c, err := New("redis://127.0.0.1:6379/0", "s", "g", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if c.resultTTL != 24*time.Hour {
		t.Fatalf("resultTTL = %s", c.resultTTL)
	}
}

func TestDecodeTask(t *testing.T) {
	task := Task{
		ID:         "abc",
		Function:   "fetch_month",
		Args:       []any{2024.0, 3.0},
		EnqueuedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, ok := decodeTask(redis.XMessage{ID: "1-0", Values: map[string]any{"task": string(b)}})
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.ID != "abc" || got.Function != "fetch_month" || len(got.Args) != 2 {
		t.Fatalf("decoded = %+v", got)
	}

	if _, ok := decodeTask(redis.XMessage{Values: map[string]any{"task": "{broken"}}); ok {
		t.Fatalf("broken payload must not decode")
	}
	if _, ok := decodeTask(redis.XMessage{Values: map[string]any{"other": "x"}}); ok {
		t.Fatalf("missing task field must not decode")
	}
}

func TestWorkerNameDefault(t *testing.T) {
	c, err := New("redis://127.0.0.1:6379/0", "s", "g", time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	w := NewWorker(c, nil, "")
	if w.name == "" || !strings.Contains(w.name, "-") {
		t.Fatalf("default worker name = %q", w.name)
	}
	if NewWorker(c, nil, "custom").name != "custom" {
		t.Fatalf("explicit name not kept")
	}
	if got := w.workerKey(); !strings.HasPrefix(got, workerKeyPrefix) {
		t.Fatalf("worker key = %q", got)
	}
}
