package queue

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// JobView is one queue entry in the jobs listing.
type JobView struct {
	Type     string `json:"type"` // active | reserved | scheduled
	ID       string `json:"id"`
	Function string `json:"function"`
	Worker   string `json:"worker,omitempty"`
	Enqueued string `json:"enqueued_at,omitempty"`
}

// Jobs reports queue occupancy the way an operator expects it.
// Active means a worker is executing the task right now (from
// heartbeats), reserved means delivered to a worker but not yet
// acknowledged, and scheduled means sitting in the stream waiting
// for delivery.
func (c *Client) Jobs(ctx context.Context) ([]JobView, error) {
	var out []JobView

	workers, err := c.PingWorkers(ctx)
	if err != nil {
		return nil, err
	}
	active := map[string]string{} // task id -> worker
	for _, w := range workers {
		if w.CurrentTask == "" {
			continue
		}
		active[w.CurrentTask] = w.Name
		out = append(out, JobView{Type: "active", ID: w.CurrentTask, Function: w.Function, Worker: w.Name})
	}

	// Reserved: pending entries of the consumer group.
	pend, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream, Group: c.group, Start: "-", End: "+", Count: 100,
	}).Result()
	if err != nil && err != redis.Nil {
		// group may not exist before the first worker starts
		pend = nil
	}
	reservedStreamIDs := map[string]struct{}{}
	for _, p := range pend {
		reservedStreamIDs[p.ID] = struct{}{}
		msgs, err := c.rdb.XRange(ctx, c.stream, p.ID, p.ID).Result()
		if err != nil || len(msgs) == 0 {
			continue
		}
		t, ok := decodeTask(msgs[0])
		if !ok {
			continue
		}
		if _, isActive := active[t.ID]; isActive {
			continue
		}
		out = append(out, JobView{
			Type: "reserved", ID: t.ID, Function: t.Function,
			Worker: p.Consumer, Enqueued: t.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	// Scheduled: stream entries past the group's last delivered id.
	lastDelivered := "0-0"
	if groups, err := c.rdb.XInfoGroups(ctx, c.stream).Result(); err == nil {
		for _, g := range groups {
			if g.Name == c.group {
				lastDelivered = g.LastDeliveredID
			}
		}
	}
	msgs, err := c.rdb.XRange(ctx, c.stream, "(" + lastDelivered, "+").Result()
	if err != nil && err != redis.Nil {
		return out, nil
	}
	for _, m := range msgs {
		t, ok := decodeTask(m)
		if !ok {
			continue
		}
		out = append(out, JobView{
			Type: "scheduled", ID: t.ID, Function: t.Function,
			Enqueued: t.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}

func decodeTask(m redis.XMessage) (Task, bool) {
	var t Task
	raw, ok := m.Values["task"].(string)
	if !ok {
		return t, false
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return t, false
	}
	return t, true
}
