package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

// Trigger kinds supported by the scheduler.
const (
	TriggerInterval = "interval"
	TriggerCron     = "cron"
)

// trigger computes successive fire times for a job.
type trigger interface {
	Next(after time.Time) time.Time
	String() string
}

type intervalTrigger struct {
	every time.Duration
}

func (t intervalTrigger) Next(after time.Time) time.Time { return after.Add(t.every) }
func (t intervalTrigger) String() string                 { return fmt.Sprintf("interval[%s]", t.every) }

type cronTrigger struct {
	expr  string
	sched cron.Schedule
}

func (t cronTrigger) Next(after time.Time) time.Time { return t.sched.Next(after) }
func (t cronTrigger) String() string                 { return fmt.Sprintf("cron[%s]", t.expr) }

// Trigger parameter documents are validated against JSON schemas before
// any trigger object is built, so malformed configs are rejected with a
// precise message instead of a zero-valued trigger.
var (
	intervalSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"properties": {
			"seconds": {"type": "integer", "minimum": 0},
			"minutes": {"type": "integer", "minimum": 0},
			"hours":   {"type": "integer", "minimum": 0},
			"days":    {"type": "integer", "minimum": 0},
			"weeks":   {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false,
		"minProperties": 1
	}`)
	cronSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"properties": {
			"expr":        {"type": "string"},
			"minute":      {"type": ["integer", "string"]},
			"hour":        {"type": ["integer", "string"]},
			"day":         {"type": ["integer", "string"]},
			"month":       {"type": ["integer", "string"]},
			"day_of_week": {"type": ["integer", "string"]}
		},
		"additionalProperties": false,
		"minProperties": 1
	}`)
)

func validateTriggerConfig(kind string, cfg map[string]any) error {
	var schema gojsonschema.JSONLoader
	switch kind {
	case TriggerInterval:
		schema = intervalSchema
	case TriggerCron:
		schema = cronSchema
	default:
		return fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidConfig, kind)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	res, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		sort.Strings(msgs)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return nil
}

// buildTrigger validates and constructs the trigger for a config.
func buildTrigger(kind string, cfg map[string]any) (trigger, error) {
	if err := validateTriggerConfig(kind, cfg); err != nil {
		return nil, err
	}
	switch kind {
	case TriggerInterval:
		var d time.Duration
		d += time.Duration(intField(cfg, "seconds")) * time.Second
		d += time.Duration(intField(cfg, "minutes")) * time.Minute
		d += time.Duration(intField(cfg, "hours")) * time.Hour
		d += time.Duration(intField(cfg, "days")) * 24 * time.Hour
		d += time.Duration(intField(cfg, "weeks")) * 7 * 24 * time.Hour
		if d <= 0 {
			return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
		}
		return intervalTrigger{every: d}, nil
	case TriggerCron:
		expr := cronLine(cfg)
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidConfig, expr, err)
		}
		return cronTrigger{expr: expr, sched: sched}, nil
	}
	return nil, fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidConfig, kind)
}

// cronLine assembles a standard 5-field line either from an explicit
// "expr" or from named fields with "*" defaults.
func cronLine(cfg map[string]any) string {
	if v, ok := cfg["expr"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	field := func(key string) string {
		v, ok := cfg[key]
		if !ok {
			return "*"
		}
		switch n := v.(type) {
		case string:
			if strings.TrimSpace(n) == "" {
				return "*"
			}
			return strings.TrimSpace(n)
		case int:
			return fmt.Sprintf("%d", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case float64:
			return fmt.Sprintf("%d", int(n))
		default:
			return "*"
		}
	}
	return strings.Join([]string{
		field("minute"), field("hour"), field("day"), field("month"), field("day_of_week"),
	}, " ")
}

func intField(cfg map[string]any, key string) int {
	switch n := cfg[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
