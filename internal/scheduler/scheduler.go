// Package scheduler drives periodic refresh of tracked shipments through the
// registered source adapters.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/adapters"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/observability"
	"github.com/cargolink/tracker/internal/pipeline"
)

// ApplyFunc ingests one fetched event; the scheduler routes every adapter
// result through it.
type ApplyFunc func(ctx context.Context, shipmentID string, event domain.CanonicalEvent, sourceID string) (pipeline.Outcome, error)

// Options configure the poll scheduler.
type Options struct {
	Shipments shipmentstore.Store
	Registry  *adapters.Registry
	Apply     ApplyFunc

	// Interval is the global tick period.
	Interval time.Duration
	// BatchSize caps the shipments refreshed per tick.
	BatchSize int
	// SourceConcurrency caps in-flight Fetch calls per source.
	SourceConcurrency int
	// SourceRate caps Fetch calls per second per source.
	SourceRate rate.Limit
	// FetchTimeout bounds a single adapter call.
	FetchTimeout time.Duration

	Now func() time.Time
}

const (
	defaultInterval          = time.Minute
	defaultBatchSize         = 100
	defaultSourceConcurrency = 4
	defaultSourceRate        = rate.Limit(10)
	defaultFetchTimeout      = 30 * time.Second
)

// Scheduler selects due shipments each tick and fans their refresh out over
// the registered adapters.
type Scheduler struct {
	opts     Options
	limiters map[string]*rate.Limiter
}

// New constructs a poll scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Shipments == nil {
		return nil, errs.Validation("scheduler", "shipment store required")
	}
	if opts.Registry == nil {
		return nil, errs.Validation("scheduler", "adapter registry required")
	}
	if opts.Apply == nil {
		return nil, errs.Validation("scheduler", "apply function required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.SourceConcurrency <= 0 {
		opts.SourceConcurrency = defaultSourceConcurrency
	}
	if opts.SourceRate <= 0 {
		opts.SourceRate = defaultSourceRate
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Scheduler{
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, src := range opts.Registry.All() {
		s.limiters[src.SourceID()] = rate.NewLimiter(opts.SourceRate, int(opts.SourceRate))
	}
	return s, nil
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick refreshes one batch of due shipments. Each shipment is dispatched to
// every registered adapter in parallel under the per-source concurrency cap,
// and its last_tracked_at is stamped exactly once regardless of outcome.
// The returned error aggregates every fetch and apply failure of the tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.opts.Now()
	due, err := s.opts.Shipments.ListDueForPoll(ctx, now, s.opts.BatchSize)
	if err != nil {
		observability.Log().Error("due-for-poll query failed",
			observability.Field{Key: "error", Value: err.Error()})
		return err
	}
	if len(due) == 0 {
		return nil
	}
	observability.Telemetry().SetGauge("tracker_scheduler_due", float64(len(due)), nil)

	sources := s.opts.Registry.All()
	pools := make(map[string]*pool.ErrorPool, len(sources))
	for _, src := range sources {
		pools[src.SourceID()] = pool.New().WithErrors().WithMaxGoroutines(s.opts.SourceConcurrency)
	}

	for _, shipment := range due {
		if shipment.Quiescent() {
			continue
		}
		for _, src := range sources {
			shipment, src := shipment, src
			pools[src.SourceID()].Go(func() error {
				return s.refresh(ctx, shipment, src)
			})
		}
	}
	var failures []error
	for _, p := range pools {
		if err := p.Wait(); err != nil {
			failures = append(failures, err)
		}
	}

	for _, shipment := range due {
		if err := s.opts.Shipments.MarkTracked(ctx, shipment.ID, now); err != nil {
			failures = append(failures, fmt.Errorf("mark tracked %s: %w", shipment.ID, err))
		}
	}
	return observability.AggregateErrors("scheduler tick", failures,
		observability.Field{Key: "due", Value: len(due)})
}

// Refresh dispatches every registered adapter for one shipment and stamps
// last_tracked_at. Serves the operator-forced refresh path; the returned
// error aggregates the per-source failures.
func (s *Scheduler) Refresh(ctx context.Context, shipment domain.Shipment) error {
	var failures []error
	for _, src := range s.opts.Registry.All() {
		if err := s.refresh(ctx, shipment, src); err != nil {
			failures = append(failures, err)
		}
	}
	if err := s.opts.Shipments.MarkTracked(ctx, shipment.ID, s.opts.Now()); err != nil {
		failures = append(failures, fmt.Errorf("mark tracked %s: %w", shipment.ID, err))
	}
	return observability.AggregateErrors("shipment refresh", failures,
		observability.Field{Key: "awb", Value: shipment.AWBNumber})
}

func (s *Scheduler) refresh(ctx context.Context, shipment domain.Shipment, src adapters.Source) error {
	if limiter, ok := s.limiters[src.SourceID()]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	events, err := src.Fetch(fetchCtx, shipment)
	if err != nil {
		s.recordFetch(src.SourceID(), "error")
		return fmt.Errorf("fetch %s from %s: %w", shipment.AWBNumber, src.SourceID(), err)
	}
	s.recordFetch(src.SourceID(), "ok")

	var failures []error
	for _, event := range events {
		if _, err := s.opts.Apply(ctx, shipment.ID, event, src.SourceID()); err != nil {
			failures = append(failures, fmt.Errorf("apply %s from %s: %w", event.Code, src.SourceID(), err))
		}
	}
	return errors.Join(failures...)
}

func (s *Scheduler) recordFetch(sourceID, result string) {
	observability.Telemetry().IncCounter("tracker_adapter_fetch_total", 1, map[string]string{
		"source": sourceID,
		"result": result,
	})
}
