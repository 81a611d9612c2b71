// Package pipeline composes the weather client and store: fetch, normalize,
// upsert, optionally notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/types"
)

// Store is the subset of the repository the pipeline writes to and reads from.
type Store interface {
	Upsert(ctx context.Context, rec types.Record) (types.UpsertResult, error)
	GetHistoryByLocation(ctx context.Context, name string, limit int) ([]types.Record, error)
}

// Notifier is told about every stored record. Its failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, rec types.Record) error
}

type Metrics interface {
	FetchCompleted(outcome string, elapsed time.Duration)
	RecordStored(inserted bool)
	NotifyFailed()
	BatchCompleted(succeeded, failed int)
}

type Options struct {
	// Delay separates consecutive fetches in a batch; none follows the last one.
	Delay time.Duration
	// Concurrency above 1 runs batch entries in parallel, bounded by this value.
	Concurrency int
	Notifier    Notifier
	Metrics     Metrics
	Logger      *slog.Logger
}

type Pipeline struct {
	fetcher client.Fetcher
	store   Store
	opts    Options
	logger  *slog.Logger
}

type Result struct {
	ID       int64        `json:"id"`
	Inserted bool         `json:"inserted"`
	Record   types.Record `json:"record"`
}

// BatchResult reports one batch entry. Err is set exactly when Success is false.
type BatchResult struct {
	Location string
	Success  bool
	ID       int64
	Inserted bool
	Record   *types.Record
	Err      error
}

func New(fetcher client.Fetcher, store Store, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{fetcher: fetcher, store: store, opts: opts, logger: logger}
}

// FetchAndStore fetches query and upserts the record. Fetch errors are
// returned unchanged and nothing is written.
func (p *Pipeline) FetchAndStore(ctx context.Context, query string) (Result, error) {
	start := time.Now()
	rec, err := p.fetcher.Fetch(ctx, query)
	if p.opts.Metrics != nil {
		p.opts.Metrics.FetchCompleted(outcome(err), time.Since(start))
	}
	if err != nil {
		p.logger.Warn("fetch failed", "query", query, "kind", outcome(err), "err", err)
		return Result{}, err
	}

	res, err := p.store.Upsert(ctx, rec)
	if err != nil {
		p.logger.Error("store failed", "query", query, "location", rec.LocationName, "err", err)
		return Result{}, fmt.Errorf("store %q: %w", query, err)
	}
	rec.ID = res.ID
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordStored(res.Inserted)
	}
	p.logger.Info("weather stored",
		"query", query,
		"location", rec.LocationName,
		"country", rec.Country,
		"id", res.ID,
		"inserted", res.Inserted,
		"temperature_c", rec.TemperatureC,
	)

	if p.opts.Notifier != nil {
		if err := p.opts.Notifier.Notify(ctx, rec); err != nil {
			p.logger.Warn("notify failed", "location", rec.LocationName, "id", res.ID, "err", err)
			if p.opts.Metrics != nil {
				p.opts.Metrics.NotifyFailed()
			}
		}
	}

	return Result{ID: res.ID, Inserted: res.Inserted, Record: rec}, nil
}

// BatchUpdate runs FetchAndStore for every query. One failure never stops the
// rest; results keep the input order. Once ctx is done the remaining entries
// fail with ctx.Err().
func (p *Pipeline) BatchUpdate(ctx context.Context, queries []string) []BatchResult {
	runID := uuid.NewString()
	results := make([]BatchResult, len(queries))
	for i, q := range queries {
		results[i].Location = q
	}

	p.logger.Info("batch update started", "run_id", runID, "locations", len(queries), "concurrency", p.opts.Concurrency)
	if p.opts.Concurrency > 1 {
		p.batchParallel(ctx, queries, results)
	} else {
		p.batchSequential(ctx, queries, results)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	failed := len(results) - succeeded
	if p.opts.Metrics != nil {
		p.opts.Metrics.BatchCompleted(succeeded, failed)
	}
	p.logger.Info("batch update finished", "run_id", runID, "succeeded", succeeded, "failed", failed)
	return results
}

func (p *Pipeline) batchSequential(ctx context.Context, queries []string, results []BatchResult) {
	for i, q := range queries {
		if i > 0 {
			if err := sleep(ctx, p.opts.Delay); err != nil {
				cancelRemaining(results[i:], err)
				return
			}
		}
		if err := ctx.Err(); err != nil {
			cancelRemaining(results[i:], err)
			return
		}
		results[i] = p.runOne(ctx, q)
	}
}

// batchParallel spaces out launches by Delay and bounds in-flight work with
// the errgroup limit. Workers write only their own slot.
func (p *Pipeline) batchParallel(ctx context.Context, queries []string, results []BatchResult) {
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	for i, q := range queries {
		if i > 0 {
			if err := sleep(ctx, p.opts.Delay); err != nil {
				cancelRemaining(results[i:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			cancelRemaining(results[i:], err)
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = failedResult(q, err)
				return nil
			}
			results[i] = p.runOne(ctx, q)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) runOne(ctx context.Context, query string) BatchResult {
	res, err := p.FetchAndStore(ctx, query)
	if err != nil {
		return failedResult(query, err)
	}
	rec := res.Record
	return BatchResult{Location: query, Success: true, ID: res.ID, Inserted: res.Inserted, Record: &rec}
}

// Summary aggregates the latest limit observations of name.
func (p *Pipeline) Summary(ctx context.Context, name string, limit int) (types.Summary, error) {
	history, err := p.store.GetHistoryByLocation(ctx, name, limit)
	if err != nil {
		return types.Summary{}, err
	}
	return types.Summarize(strings.TrimSpace(name), history), nil
}

func failedResult(query string, err error) BatchResult {
	return BatchResult{Location: query, Err: err}
}

func cancelRemaining(results []BatchResult, err error) {
	for i := range results {
		results[i] = failedResult(results[i].Location, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// outcome is a low-cardinality label for logs and metrics.
func outcome(err error) string {
	switch kind := client.KindOf(err); {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case kind == client.ErrNetwork:
		return "network"
	case kind == client.ErrAuth:
		return "auth"
	case kind == client.ErrNotFound:
		return "not_found"
	case kind == client.ErrRateLimit:
		return "rate_limit"
	case kind == client.ErrMalformedResponse:
		return "malformed"
	case kind == client.ErrInvalidQuery:
		return "invalid_query"
	default:
		return "error"
	}
}
