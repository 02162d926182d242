package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/domain/substore"
	"github.com/cargolink/tracker/internal/observability"
)

// Options configure the dispatcher.
type Options struct {
	Subscriptions substore.Store
	Events        eventstore.Store
	Shipments     shipmentstore.Store
	Deliverers    []Deliverer

	// QueueSize bounds the pending job channel.
	QueueSize int
	// MethodConcurrency caps in-flight Deliver calls per method.
	MethodConcurrency int
	// MaxAttempts bounds retries of transient delivery failures.
	MaxAttempts int
	// RetryInitial and RetryMax shape the backoff between attempts.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// DeliverTimeout bounds a single Deliver call.
	DeliverTimeout time.Duration
	// SweepInterval paces the reconciliation sweeper; the sweeper also runs
	// once at startup.
	SweepInterval time.Duration
	// SweepBatch caps events re-enqueued per sweep.
	SweepBatch int
}

const (
	defaultQueueSize         = 1024
	defaultMethodConcurrency = 4
	defaultMaxAttempts       = 3
	defaultRetryInitial      = 2 * time.Second
	defaultRetryMax          = 30 * time.Second
	defaultDeliverTimeout    = 30 * time.Second
	defaultSweepInterval     = 5 * time.Minute
	defaultSweepBatch        = 100
)

// Dispatcher consumes notification jobs and drives pluggable deliverers with
// at-least-once semantics.
type Dispatcher struct {
	opts       Options
	jobs       chan Job
	deliverers map[domain.DeliveryMethod]Deliverer
	semaphores map[domain.DeliveryMethod]chan struct{}
}

// NewDispatcher constructs a notification dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Subscriptions == nil {
		return nil, errs.Validation("dispatcher", "subscription store required")
	}
	if opts.Events == nil {
		return nil, errs.Validation("dispatcher", "event store required")
	}
	if opts.Shipments == nil {
		return nil, errs.Validation("dispatcher", "shipment store required")
	}
	if len(opts.Deliverers) == 0 {
		return nil, errs.Validation("dispatcher", "at least one deliverer required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MethodConcurrency <= 0 {
		opts.MethodConcurrency = defaultMethodConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = defaultDeliverTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}

	d := &Dispatcher{
		opts:       opts,
		jobs:       make(chan Job, opts.QueueSize),
		deliverers: make(map[domain.DeliveryMethod]Deliverer, len(opts.Deliverers)),
		semaphores: make(map[domain.DeliveryMethod]chan struct{}, len(opts.Deliverers)),
	}
	for _, deliverer := range opts.Deliverers {
		d.deliverers[deliverer.Method()] = deliverer
		d.semaphores[deliverer.Method()] = make(chan struct{}, opts.MethodConcurrency)
	}
	return d, nil
}

// EnqueueEvent queues one delivery job per subscription matching the event.
// A full queue drops the job with a warning; the sweeper recovers it later.
func (d *Dispatcher) EnqueueEvent(ctx context.Context, shipment domain.Shipment, event domain.TrackingEvent) error {
	subs, err := d.opts.Subscriptions.ListActiveByShipment(ctx, event.ShipmentID)
	if err != nil {
		return err
	}
	payload := Payload{
		Event:    event,
		AWB:      shipment.AWBNumber,
		Status:   shipment.CurrentStatus,
		Location: shipment.CurrentLocation,
	}
	for _, sub := range subs {
		if !sub.Matches(event) {
			continue
		}
		job := Job{
			Event:        event,
			Subscription: sub,
			Payload:      payload,
			EnqueuedAt:   time.Now().UTC(),
		}
		select {
		case d.jobs <- job:
		default:
			observability.Log().Warn("notification queue full, job dropped",
				observability.Field{Key: "event_id", Value: event.EventID},
				observability.Field{Key: "subscription_id", Value: sub.ID})
			observability.Telemetry().IncCounter("tracker_notify_dropped_total", 1, nil)
		}
	}
	return nil
}

// Run consumes jobs until the context is cancelled, then drains the queue.
// The sweeper runs once at startup and on every interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Sweep(ctx)

	var workers conc.WaitGroup
	defer workers.Wait()

	sweepTicker := time.NewTicker(d.opts.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case <-sweepTicker.C:
			d.Sweep(ctx)
		case job := <-d.jobs:
			sem := d.semaphores[job.Subscription.Method]
			if sem == nil {
				d.recordFailed(context.Background(), job, "no deliverer for method")
				continue
			}
			sem <- struct{}{}
			workers.Go(func() {
				defer func() { <-sem }()
				d.process(job)
			})
		}
	}
}

// drain processes remaining jobs under the shutdown deadline assumed by the
// caller's context.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobs:
			d.process(job)
		default:
			return
		}
	}
}

// process attempts delivery with exponential backoff on transient failures.
func (d *Dispatcher) process(job Job) {
	deliverer, ok := d.deliverers[job.Subscription.Method]
	if !ok {
		d.recordFailed(context.Background(), job, "no deliverer for method")
		return
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = d.opts.RetryInitial
	backoffCfg.MaxInterval = d.opts.RetryMax

	var lastDetail string
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		job.Attempts = attempt
		deliverCtx, cancel := context.WithTimeout(context.Background(), d.opts.DeliverTimeout)
		result := deliverer.Deliver(deliverCtx, job.Subscription.Endpoint, job.Payload)
		cancel()

		switch result.Status {
		case DeliverOK:
			d.recordDelivered(context.Background(), job)
			return
		case DeliverPermanent:
			d.recordFailed(context.Background(), job, result.Detail)
			return
		default:
			lastDetail = result.Detail
		}

		if attempt == d.opts.MaxAttempts {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop || sleep > d.opts.RetryMax {
			sleep = d.opts.RetryMax
		}
		time.Sleep(sleep)
	}
	d.recordFailed(context.Background(), job, lastDetail)
}

// Sweep re-enqueues events that match an active subscription but were never
// attempted, recovering from post-commit emit losses. Events with a terminal
// record, delivered or permanently failed, are not retried.
func (d *Dispatcher) Sweep(ctx context.Context) {
	events, err := d.opts.Events.ListUnnotified(ctx, d.opts.SweepBatch)
	if err != nil {
		observability.Log().Error("notification sweep failed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	for _, event := range events {
		shipment, err := d.opts.Shipments.GetByID(ctx, event.ShipmentID)
		if err != nil {
			continue
		}
		if err := d.EnqueueEvent(ctx, shipment, event); err != nil {
			observability.Log().Warn("sweep enqueue failed",
				observability.Field{Key: "event_id", Value: event.EventID},
				observability.Field{Key: "error", Value: err.Error()})
		}
	}
	if len(events) > 0 {
		observability.Log().Info("notification sweep re-enqueued events",
			observability.Field{Key: "count", Value: len(events)})
	}
}

func (d *Dispatcher) recordDelivered(ctx context.Context, job Job) {
	now := time.Now().UTC()
	err := d.opts.Subscriptions.RecordDelivery(ctx, substore.DeliveryRecord{
		EventID:        job.Event.EventID,
		SubscriptionID: job.Subscription.ID,
		Attempts:       job.Attempts,
		Delivered:      true,
		DeliveredAt:    &now,
	})
	if err != nil {
		observability.Log().Error("delivery record write failed",
			observability.Field{Key: "event_id", Value: job.Event.EventID},
			observability.Field{Key: "error", Value: err.Error()})
	}
	observability.Telemetry().IncCounter("tracker_notify_delivered_total", 1, map[string]string{
		"method": string(job.Subscription.Method),
	})
}

func (d *Dispatcher) recordFailed(ctx context.Context, job Job, detail string) {
	err := d.opts.Subscriptions.RecordDelivery(ctx, substore.DeliveryRecord{
		EventID:        job.Event.EventID,
		SubscriptionID: job.Subscription.ID,
		Attempts:       job.Attempts,
		Delivered:      false,
		LastError:      detail,
	})
	if err != nil {
		observability.Log().Error("delivery record write failed",
			observability.Field{Key: "event_id", Value: job.Event.EventID},
			observability.Field{Key: "error", Value: err.Error()})
	}
	observability.Log().Warn("notification delivery failed",
		observability.Field{Key: "event_id", Value: job.Event.EventID},
		observability.Field{Key: "subscription_id", Value: job.Subscription.ID},
		observability.Field{Key: "method", Value: string(job.Subscription.Method)},
		observability.Field{Key: "detail", Value: detail})
	observability.Telemetry().IncCounter("tracker_notify_failed_total", 1, map[string]string{
		"method": string(job.Subscription.Method),
	})
}
