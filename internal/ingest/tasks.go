// Package ingest defines the background units of work that pull data
// from the external catalog and reconcile it into the database. The set
// of operations is closed: handlers are registered at construction time
// and looked up by name, unknown names are a validation error for
// callers.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gameinsight/gameinsight/internal/analytics/mq"
	"github.com/gameinsight/gameinsight/internal/catalog"
	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
)

// Operation names accepted by the scheduler and the task API.
const (
	OpFetchMonth     = "fetch_month"
	OpMonthlyUpdates = "fetch_monthly_updates"
	OpWeeklyUpdates  = "fetch_weekly_updates"
	OpExample        = "example_task"
)

// Result is the structured payload a task reports into the queue's
// result store.
type Result map[string]any

// Handler executes one unit of work. Args/kwargs arrive as decoded JSON
// (numbers are float64).
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (Result, error)

// Fetcher is the slice of the catalog client the tasks need; swapped for
// a fake in tests.
type Fetcher interface {
	FetchMonth(ctx context.Context, year, month int) ([]catalog.Record, error)
	FetchRecentlyUpdated(ctx context.Context, days int) ([]catalog.Record, error)
}

type Registry struct {
	catalog  Fetcher
	games    *games.Repo
	events   mq.Queue
	handlers map[string]Handler
	now      func() time.Time
}

func NewRegistry(cat Fetcher, repo *games.Repo, events mq.Queue) *Registry {
	if events == nil {
		events = mq.NewNoop()
	}
	r := &Registry{catalog: cat, games: repo, events: events, now: time.Now}
	r.handlers = map[string]Handler{
		OpFetchMonth:     r.fetchMonth,
		OpMonthlyUpdates: r.monthlyUpdates,
		OpWeeklyUpdates:  r.weeklyUpdates,
		OpExample:        exampleTask,
	}
	return r
}

// Lookup returns the handler for a registered operation name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists the registered operations, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fetchMonth ingests every game released in (year, month). Create-only:
// games already present by slug are left untouched.
func (r *Registry) fetchMonth(ctx context.Context, args []any, kwargs map[string]any) (Result, error) {
	year, err := intArg(args, 0, kwargs, "year", 0)
	if err != nil {
		return nil, err
	}
	month, err := intArg(args, 1, kwargs, "month", 0)
	if err != nil {
		return nil, err
	}
	if year == 0 || month < 1 || month > 12 {
		return nil, fmt.Errorf("ingest: invalid month %d-%d", year, month)
	}
	slog.Info("fetching games for month", "year", year, "month", month)
	records, err := r.catalog.FetchMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}
	created, failed := 0, 0
	for i := range records {
		rec := &records[i]
		existing, err := r.games.GetBySlug(ctx, rec.Slug)
		if err != nil {
			slog.Warn("lookup failed, skipping record", "slug", rec.Slug, "error", err)
			failed++
			continue
		}
		if existing != nil {
			continue
		}
		if _, ok, err := r.games.CreateFromRecord(ctx, rec); err != nil {
			slog.Warn("create failed, skipping record", "slug", rec.Slug, "error", err)
			failed++
		} else if ok {
			created++
		}
	}
	res := Result{
		"status":        "success",
		"games_fetched": len(records),
		"games_created": created,
		"year":          year,
		"month":         month,
	}
	if failed > 0 {
		res["games_failed"] = failed
	}
	r.publish(OpFetchMonth, res)
	slog.Info("month fetch done", "year", year, "month", month, "fetched", len(records), "created", created)
	return res, nil
}

// monthlyUpdates resolves the previous calendar month against wall clock
// and delegates to fetchMonth.
func (r *Registry) monthlyUpdates(ctx context.Context, _ []any, _ map[string]any) (Result, error) {
	firstOfMonth := r.now().UTC().Truncate(24 * time.Hour)
	firstOfMonth = time.Date(firstOfMonth.Year(), firstOfMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := firstOfMonth.AddDate(0, 0, -1)
	return r.fetchMonth(ctx, []any{prev.Year(), int(prev.Month())}, nil)
}

// weeklyUpdates ingests games the catalog updated in the lookback window
// (default 7 days). Existing games get their mutable fields refreshed and
// their attribute links replaced; new games are created in full.
func (r *Registry) weeklyUpdates(ctx context.Context, args []any, kwargs map[string]any) (Result, error) {
	days, err := intArg(args, 0, kwargs, "days", 7)
	if err != nil {
		return nil, err
	}
	slog.Info("fetching recently updated games", "days", days)
	records, err := r.catalog.FetchRecentlyUpdated(ctx, days)
	if err != nil {
		return nil, err
	}
	created, updated, failed := 0, 0, 0
	for i := range records {
		rec := &records[i]
		existing, err := r.games.GetBySlug(ctx, rec.Slug)
		if err != nil {
			slog.Warn("lookup failed, skipping record", "slug", rec.Slug, "error", err)
			failed++
			continue
		}
		if existing != nil {
			if err := r.games.UpdateFromRecord(ctx, existing, rec); err != nil {
				slog.Warn("update failed, skipping record", "slug", rec.Slug, "error", err)
				failed++
			} else {
				updated++
			}
			continue
		}
		if _, ok, err := r.games.CreateFromRecord(ctx, rec); err != nil {
			slog.Warn("create failed, skipping record", "slug", rec.Slug, "error", err)
			failed++
		} else if ok {
			created++
		}
	}
	res := Result{
		"status":        "success",
		"games_fetched": len(records),
		"games_created": created,
		"games_updated": updated,
		"days":          days,
	}
	if failed > 0 {
		res["games_failed"] = failed
	}
	r.publish(OpWeeklyUpdates, res)
	slog.Info("weekly update done", "fetched", len(records), "created", created, "updated", updated)
	return res, nil
}

// exampleTask adds two numbers; kept around so schedules and the queue
// can be exercised without touching the catalog.
func exampleTask(_ context.Context, args []any, kwargs map[string]any) (Result, error) {
	x, err := intArg(args, 0, kwargs, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := intArg(args, 1, kwargs, "y", 0)
	if err != nil {
		return nil, err
	}
	return Result{"status": "success", "result": x + y}, nil
}

func (r *Registry) publish(op string, res Result) {
	evt := map[string]any{"task": op, "at": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range res {
		evt[k] = v
	}
	if err := r.events.PublishIngest(evt); err != nil {
		slog.Warn("ingest event publish failed", "task", op, "error", err)
	}
}

// intArg reads a positional arg, falling back to a kwarg, then a default.
// JSON decoding hands numbers over as float64.
func intArg(args []any, pos int, kwargs map[string]any, key string, def int) (int, error) {
	var v any
	if pos < len(args) {
		v = args[pos]
	} else if kwargs != nil {
		if kv, ok := kwargs[key]; ok {
			v = kv
		}
	}
	if v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("ingest: argument %q must be a number, got %T", key, v)
	}
}
