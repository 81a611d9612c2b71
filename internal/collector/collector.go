// Package collector refreshes the configured locations on a cron schedule
// and applies the retention policy after every run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"weatherpipe/internal/modules/weather/pipeline"
)

type BatchRunner interface {
	BatchUpdate(ctx context.Context, queries []string) []pipeline.BatchResult
}

type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type PruneMetrics interface {
	RecordsPruned(n int64)
}

type Options struct {
	// Schedule accepts standard five-field specs and descriptors such as "@hourly" or "@every 30m".
	Schedule      string
	Locations     []string
	RetentionDays int
	// RunTimeout bounds one scheduled run. Zero means 5 minutes.
	RunTimeout time.Duration
	Metrics    PruneMetrics
	Logger     *slog.Logger
	Now        func() time.Time
}

type Report struct {
	Succeeded int
	Failed    int
	Pruned    int64
}

type Collector struct {
	runner BatchRunner
	pruner Pruner
	opts   Options
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

var ErrNoLocations = errors.New("no locations configured")

func New(runner BatchRunner, pruner Pruner, opts Options) (*Collector, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}

	c := &Collector{runner: runner, pruner: pruner, opts: opts, logger: opts.Logger}
	cl := cronLogger{logger: opts.Logger}
	c.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.cron.AddFunc(opts.Schedule, c.scheduledRun); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	return c, nil
}

// Start runs the schedule in the background until Stop or ctx is done.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.cron.Start()
	for _, e := range c.cron.Entries() {
		c.logger.Info("collector started", "schedule", c.opts.Schedule, "next_run", e.Next, "locations", len(c.opts.Locations))
	}
}

// Stop cancels an in-flight run and waits for it to return, or for ctx.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	select {
	case <-c.cron.Stop().Done():
		c.logger.Info("collector stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collector) scheduledRun() {
	c.mu.Lock()
	base := c.baseCtx
	c.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	ctx, cancel := context.WithTimeout(base, c.opts.RunTimeout)
	defer cancel()
	if _, err := c.RunOnce(ctx); err != nil {
		c.logger.Error("collector run failed", "error", err)
	}
}

// RunOnce refreshes every location, then prunes. A prune failure is returned
// alongside the batch counts.
func (c *Collector) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	if len(c.opts.Locations) == 0 {
		c.logger.Warn("collector has nothing to fetch", "error", ErrNoLocations)
	} else {
		for _, r := range c.runner.BatchUpdate(ctx, c.opts.Locations) {
			if r.Success {
				rep.Succeeded++
				continue
			}
			rep.Failed++
			c.logger.Warn("collector location failed", "location", r.Location, "error", r.Err)
		}
	}

	n, err := c.Prune(ctx)
	rep.Pruned = n
	c.logger.Info("collector run finished",
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"pruned", rep.Pruned,
		"duration", time.Since(start),
	)
	return rep, err
}

// Prune deletes records older than RetentionDays. It is a no-op when
// retention is disabled.
func (c *Collector) Prune(ctx context.Context) (int64, error) {
	if c.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := c.opts.Now().AddDate(0, 0, -c.opts.RetentionDays)
	n, err := c.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordsPruned(n)
	}
	if n > 0 {
		c.logger.Info("pruned old records", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
