package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor runs eviction on a cron schedule.
type Janitor struct {
	store   Store
	policy  EvictPolicy
	timeout time.Duration
}

// NewJanitor creates a janitor for store.
func NewJanitor(store Store, policy EvictPolicy) *Janitor {
	return &Janitor{store: store, policy: policy, timeout: 10 * time.Minute}
}

// Register schedules the janitor on c using a cron spec such as "@every 24h".
func (j *Janitor) Register(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() { j.Run(context.Background()) })
	return err
}

// Run performs one eviction pass and logs the outcome.
func (j *Janitor) Run(ctx context.Context) EvictReport {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.store.Evict(ctx, j.policy)
	if err != nil {
		slog.Error("cache eviction failed", "error", err)
		return report
	}
	slog.Info("cache eviction finished",
		"removed_expired", report.RemovedExpired,
		"removed_lru", report.RemovedLRU,
		"bytes_freed", report.BytesFreed,
	)
	return report
}
