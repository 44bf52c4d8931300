package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSubmitter) Enqueue(ctx context.Context, function string, args []any, kwargs map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, function)
	return "task-1", nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFunctions struct{ names []string }

func (f fakeFunctions) Names() []string { return f.names }

func newTestScheduler(sub *fakeSubmitter) *Scheduler {
	return New(sub, fakeFunctions{names: []string{"fetch_month", "fetch_weekly_updates", "fetch_monthly_updates", "example_task"}})
}

func intervalCfg(id string, seconds int) TaskConfig {
	return TaskConfig{
		ID:            id,
		Name:          id,
		Function:      "example_task",
		TriggerType:   TriggerInterval,
		TriggerConfig: map[string]any{"seconds": seconds},
		Enabled:       true,
	}
}

func TestAddAndGet(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	if err := s.Add(intervalCfg("job1", 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	v, err := s.Get("job1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !v.Enabled {
		t.Fatalf("expected enabled")
	}
	if v.NextRunTime == nil {
		t.Fatalf("expected a next run time")
	}
	next, err := time.Parse(time.RFC3339, *v.NextRunTime)
	if err != nil {
		t.Fatalf("parse next run: %v", err)
	}
	if d := time.Until(next); d <= 0 || d > 31*time.Second {
		t.Fatalf("next run %s away", d)
	}
	if v.Trigger != "interval[30s]" {
		t.Fatalf("trigger = %q", v.Trigger)
	}
}

func TestAddRejectsUnknownFunction(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	cfg := intervalCfg("job1", 30)
	cfg.Function = "not_a_function"
	if err := s.Add(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := s.Get("job1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected job must not be stored")
	}
}

func TestAddRejectsBadTrigger(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	cfg := intervalCfg("job1", 30)
	cfg.TriggerConfig = map[string]any{"fortnights": 2}
	if err := s.Add(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg = intervalCfg("job2", 30)
	cfg.TriggerType = "calendar"
	if err := s.Add(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown trigger type, got %v", err)
	}
}

func TestCronTrigger(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	cfg := TaskConfig{
		ID:            "nightly",
		Function:      "fetch_weekly_updates",
		TriggerType:   TriggerCron,
		TriggerConfig: map[string]any{"hour": 3, "minute": 30},
		Enabled:       true,
	}
	if err := s.Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}
	v, err := s.Get("nightly")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next, err := time.Parse(time.RFC3339, *v.NextRunTime)
	if err != nil {
		t.Fatalf("parse next run: %v", err)
	}
	if next.Minute() != 30 {
		t.Fatalf("cron next = %s", next)
	}
}

func TestPauseResume(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	if err := s.Add(intervalCfg("job1", 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Pause("job1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	v, _ := s.Get("job1")
	if v.Enabled || v.NextRunTime != nil {
		t.Fatalf("paused view = %+v", v)
	}
	if err := s.Resume("job1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	v, _ = s.Get("job1")
	if !v.Enabled || v.NextRunTime == nil {
		t.Fatalf("resumed view = %+v", v)
	}
	if err := s.Pause("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	if err := s.Add(intervalCfg("job1", 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove("job1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("job1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestModifyValidatesBeforeSwap(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	if err := s.Add(intervalCfg("job1", 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	bad := intervalCfg("job1", 30)
	bad.Function = "not_a_function"
	if err := s.Modify("job1", bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	v, err := s.Get("job1")
	if err != nil {
		t.Fatalf("Get after failed modify: %v", err)
	}
	if v.Trigger != "interval[30s]" {
		t.Fatalf("old schedule must survive a failed modify, got %q", v.Trigger)
	}

	good := intervalCfg("job1", 60)
	good.Function = "fetch_month"
	if err := s.Modify("job1", good); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	v, _ = s.Get("job1")
	if v.Trigger != "interval[1m0s]" || v.Function != "fetch_month" {
		t.Fatalf("modified view = %+v", v)
	}

	if err := s.Modify("ghost", good); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfigCopyIsIsolated(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	if err := s.Add(intervalCfg("job1", 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cfg, err := s.Config("job1")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	cfg.TriggerConfig["seconds"] = 999

	v, _ := s.Get("job1")
	if v.Trigger != "interval[30s]" {
		t.Fatalf("stored job mutated through config copy: %q", v.Trigger)
	}
	fresh, _ := s.Config("job1")
	if fresh.TriggerConfig["seconds"] != 30 {
		t.Fatalf("stored trigger config mutated: %v", fresh.TriggerConfig)
	}
}

func TestListSortedByID(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := s.Add(intervalCfg(id, 30)); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	views := s.List()
	if len(views) != 3 || views[0].ID != "alpha" || views[2].ID != "zeta" {
		t.Fatalf("list order = %+v", views)
	}
}

func TestExecuteNow(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestScheduler(sub)
	if err := s.Add(intervalCfg("job1", 3600)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, err := s.ExecuteNow(context.Background(), "job1")
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if id != "task-1" || sub.count() != 1 {
		t.Fatalf("id=%q submissions=%d", id, sub.count())
	}
	if _, err := s.ExecuteNow(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDueJobsFire(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestScheduler(sub)
	s.tick = 5 * time.Millisecond
	if err := s.Add(intervalCfg("job1", 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// force the first due time into the past
	s.mu.Lock()
	s.jobs["job1"].next = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.Start()
	defer s.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sub.count() == 0 {
		t.Fatalf("due job never fired")
	}
}

func TestConcurrencyCapDropsFirings(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestScheduler(sub)
	if err := s.Add(intervalCfg("job1", 3600)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.mu.Lock()
	j := s.jobs["job1"]
	s.mu.Unlock()

	// saturate the per-job slots
	for i := 0; i < maxInstances; i++ {
		j.sem <- struct{}{}
	}
	s.fire(j)
	time.Sleep(50 * time.Millisecond)
	if sub.count() != 0 {
		t.Fatalf("firing above the cap must be dropped, saw %d submissions", sub.count())
	}

	<-j.sem
	s.fire(j)
	deadline := time.Now().Add(time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.count() != 1 {
		t.Fatalf("freed slot should allow one firing, saw %d", sub.count())
	}
}

func TestModifyKeepsInFlightCap(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestScheduler(sub)
	if err := s.Add(intervalCfg("job1", 3600)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.mu.Lock()
	j := s.jobs["job1"]
	s.mu.Unlock()

	// saturate the slots, then swap the config under the same id
	for i := 0; i < maxInstances; i++ {
		j.sem <- struct{}{}
	}
	if err := s.Modify("job1", intervalCfg("job1", 1800)); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	s.mu.Lock()
	replaced := s.jobs["job1"]
	s.mu.Unlock()

	s.fire(replaced)
	time.Sleep(50 * time.Millisecond)
	if sub.count() != 0 {
		t.Fatalf("in-flight firings must still count toward the cap, saw %d submissions", sub.count())
	}

	<-replaced.sem
	s.fire(replaced)
	deadline := time.Now().Add(time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.count() != 1 {
		t.Fatalf("freed slot should allow one firing, saw %d", sub.count())
	}
}

func TestSeedSkipsBadEntries(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	bad := intervalCfg("bad", 30)
	bad.Function = "nope"
	s.Seed([]TaskConfig{bad, intervalCfg("good", 30)})
	if _, err := s.Get("bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad seed must be skipped")
	}
	if _, err := s.Get("good"); err != nil {
		t.Fatalf("good seed must be added: %v", err)
	}
}

func TestDefaultTasksAreValid(t *testing.T) {
	s := newTestScheduler(&fakeSubmitter{})
	s.Seed(DefaultTasks())
	views := s.List()
	if len(views) != 2 {
		t.Fatalf("expected 2 default tasks, got %d", len(views))
	}
	for _, v := range views {
		if !v.Enabled || v.NextRunTime == nil {
			t.Fatalf("default task %s not schedulable: %+v", v.ID, v)
		}
	}
}
