// Package scheduler maintains the mutable set of periodic task
// schedules. Jobs live in an in-memory store only; nothing survives a
// restart except what the seed file re-creates. The scheduler never
// executes ingestion work itself, a due fire merely submits the task to
// the queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gameinsight/gameinsight/internal/queue"
)

var (
	ErrNotFound      = errors.New("scheduler: task not found")
	ErrInvalidConfig = errors.New("scheduler: invalid task config")
)

// maxInstances bounds concurrent in-flight firings of one job; a due
// fire at the cap is dropped, not queued.
const maxInstances = 3

const defaultTick = time.Second

// TaskConfig is one schedule as callers create and read it.
type TaskConfig struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Function      string         `json:"task_function" yaml:"function"`
	TriggerType   string         `json:"trigger_type" yaml:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config" yaml:"trigger_config"`
	Args          []any          `json:"args,omitempty" yaml:"args"`
	Kwargs        map[string]any `json:"kwargs,omitempty" yaml:"kwargs"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Description   string         `json:"description,omitempty" yaml:"description"`
}

// TaskView is the merged read-only projection of job state and config.
type TaskView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	NextRunTime *string        `json:"next_run_time"`
	Trigger     string         `json:"trigger"`
	Enabled     bool           `json:"enabled"`
	Description string         `json:"description"`
	Function    string         `json:"task_function"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
}

// FunctionSet is the closed registry of ingestion operations; the
// scheduler only needs membership and the name listing.
type FunctionSet interface {
	Names() []string
}

type job struct {
	cfg    TaskConfig
	trig   trigger
	paused bool
	next   time.Time
	sem    chan struct{}
}

type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	sub     queue.Submitter
	funcs   FunctionSet
	running bool
	stop    chan struct{}
	done    chan struct{}
	now     func() time.Time
	tick    time.Duration
}

func New(sub queue.Submitter, funcs FunctionSet) *Scheduler {
	return &Scheduler{
		jobs:  map[string]*job{},
		sub:   sub,
		funcs: funcs,
		now:   time.Now,
		tick:  defaultTick,
	}
}

// Start begins firing jobs. Safe to call once; subsequent calls no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.loop()
	slog.Info("task scheduler started")
}

// Shutdown stops firing and discards the job store.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	s.mu.Lock()
	s.jobs = map[string]*job{}
	s.mu.Unlock()
	slog.Info("task scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.done)
	tk := time.NewTicker(s.tick)
	defer tk.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-tk.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.now()
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.paused || j.next.IsZero() || j.next.After(now) {
			continue
		}
		j.next = j.trig.Next(now)
		due = append(due, j)
	}
	s.mu.Unlock()
	for _, j := range due {
		s.fire(j)
	}
}

func (s *Scheduler) fire(j *job) {
	select {
	case j.sem <- struct{}{}:
	default:
		slog.Warn("job at concurrency cap, firing dropped", "task_id", j.cfg.ID, "cap", maxInstances)
		return
	}
	go func() {
		defer func() { <-j.sem }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		id, err := s.sub.Enqueue(ctx, j.cfg.Function, j.cfg.Args, j.cfg.Kwargs)
		if err != nil {
			slog.Error("job submit failed", "task_id", j.cfg.ID, "function", j.cfg.Function, "error", err)
			return
		}
		slog.Info("job submitted", "task_id", j.cfg.ID, "function", j.cfg.Function, "queue_task_id", id)
	}()
}

// validate checks a config without touching the store.
func (s *Scheduler) validate(cfg *TaskConfig) (trigger, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if !s.hasFunction(cfg.Function) {
		return nil, fmt.Errorf("%w: task function %q not available", ErrInvalidConfig, cfg.Function)
	}
	return buildTrigger(cfg.TriggerType, cfg.TriggerConfig)
}

func (s *Scheduler) hasFunction(name string) bool {
	for _, n := range s.funcs.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Add registers a schedule, replacing any existing job with the same id.
// A disabled config is registered paused.
func (s *Scheduler) Add(cfg TaskConfig) error {
	trig, err := s.validate(&cfg)
	if err != nil {
		slog.Error("add task rejected", "task_id", cfg.ID, "error", err)
		return err
	}
	j := &job{
		cfg:    cfg,
		trig:   trig,
		paused: !cfg.Enabled,
		sem:    make(chan struct{}, maxInstances),
	}
	j.next = trig.Next(s.now())
	s.mu.Lock()
	s.jobs[cfg.ID] = j
	s.mu.Unlock()
	slog.Info("task added", "task_id", cfg.ID, "trigger", trig.String(), "enabled", cfg.Enabled)
	return nil
}

// Remove unregisters a job and discards its configuration.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		slog.Warn("remove: task not found", "task_id", id)
		return ErrNotFound
	}
	delete(s.jobs, id)
	slog.Info("task removed", "task_id", id)
	return nil
}

// Pause stops future firings; the configuration is retained.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.paused = true
	j.cfg.Enabled = false
	slog.Info("task paused", "task_id", id)
	return nil
}

// Resume re-enables a paused job and recomputes its next fire time.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.paused = false
	j.cfg.Enabled = true
	j.next = j.trig.Next(s.now())
	slog.Info("task resumed", "task_id", id)
	return nil
}

// Modify swaps a job's configuration under the same id. The new config
// is validated first; on validation failure the old registration is
// untouched.
func (s *Scheduler) Modify(id string, cfg TaskConfig) error {
	cfg.ID = id
	trig, err := s.validate(&cfg)
	if err != nil {
		slog.Error("modify task rejected", "task_id", id, "error", err)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	// keep the semaphore so in-flight firings still count toward the cap
	j := &job{
		cfg:    cfg,
		trig:   trig,
		paused: !cfg.Enabled,
		sem:    old.sem,
	}
	j.next = trig.Next(s.now())
	s.jobs[id] = j
	slog.Info("task modified", "task_id", id, "trigger", trig.String())
	return nil
}

func viewOf(j *job) TaskView {
	v := TaskView{
		ID:          j.cfg.ID,
		Name:        j.cfg.Name,
		Trigger:     j.trig.String(),
		Enabled:     !j.paused,
		Description: j.cfg.Description,
		Function:    j.cfg.Function,
		Args:        j.cfg.Args,
		Kwargs:      j.cfg.Kwargs,
	}
	if v.Args == nil {
		v.Args = []any{}
	}
	if v.Kwargs == nil {
		v.Kwargs = map[string]any{}
	}
	if !j.paused && !j.next.IsZero() {
		s := j.next.UTC().Format(time.RFC3339)
		v.NextRunTime = &s
	}
	return v
}

// List projects every job, sorted by id.
func (s *Scheduler) List() []TaskView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskView, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, viewOf(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (s *Scheduler) Get(id string) (*TaskView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	v := viewOf(j)
	return &v, nil
}

// Config returns a copy of the stored configuration for merge-updates.
// Maps and slices are copied too, so callers can mutate the result
// without touching the live job.
func (s *Scheduler) Config(id string) (*TaskConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cfg := j.cfg
	if j.cfg.TriggerConfig != nil {
		cfg.TriggerConfig = make(map[string]any, len(j.cfg.TriggerConfig))
		for k, v := range j.cfg.TriggerConfig {
			cfg.TriggerConfig[k] = v
		}
	}
	if j.cfg.Kwargs != nil {
		cfg.Kwargs = make(map[string]any, len(j.cfg.Kwargs))
		for k, v := range j.cfg.Kwargs {
			cfg.Kwargs[k] = v
		}
	}
	if j.cfg.Args != nil {
		cfg.Args = append([]any(nil), j.cfg.Args...)
	}
	return &cfg, nil
}

// ExecuteNow submits a one-off execution outside the schedule and
// returns the queue task id.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	taskID, err := s.sub.Enqueue(ctx, j.cfg.Function, j.cfg.Args, j.cfg.Kwargs)
	if err != nil {
		return "", err
	}
	slog.Info("task executed on demand", "task_id", id, "queue_task_id", taskID)
	return taskID, nil
}

// FunctionNames lists the ingestion operations schedules may reference.
func (s *Scheduler) FunctionNames() []string { return s.funcs.Names() }

// Seed adds the given configs, logging failures instead of aborting, so
// one bad seed entry does not block startup.
func (s *Scheduler) Seed(cfgs []TaskConfig) {
	for _, cfg := range cfgs {
		if err := s.Add(cfg); err != nil {
			slog.Error("seed task skipped", "task_id", cfg.ID, "error", err)
		}
	}
}
