// Package pipeline implements the single ingestion entry point for tracking
// events: dedup, persistence, state derivation, and post-commit fan-out.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/catalogstore"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/observability"
)

// Outcome is the result of applying a canonical event.
type Outcome string

const (
	// OutcomeCreated marks an event persisted and applied to derived state.
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicate marks an event dropped by the dedup rules.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected marks an event refused before persistence.
	OutcomeRejected Outcome = "rejected"
)

// UnitOfWork runs the event append and shipment update in one transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, events eventstore.Tx, shipments shipmentstore.Tx) error) error
}

// Publisher receives applied events for push fan-out. Implementations must
// not block; publish failures are absorbed.
type Publisher interface {
	PublishEvent(shipment domain.Shipment, event domain.TrackingEvent, state domain.DerivedState)
}

// Notifier enqueues out-of-band notification jobs for applied events.
type Notifier interface {
	EnqueueEvent(ctx context.Context, shipment domain.Shipment, event domain.TrackingEvent) error
}

// Options configure the ingestion pipeline.
type Options struct {
	UnitOfWork UnitOfWork
	Catalog    catalogstore.Store
	Publisher  Publisher
	Notifier   Notifier

	// TransitWindow estimates the delivery date when a departure event applies
	// and no estimate exists yet.
	TransitWindow time.Duration

	// ManualSourceID identifies the source exempt from the tracking-enabled
	// eligibility gate.
	ManualSourceID string

	// Now is overridable for tests.
	Now func() time.Time
}

// Pipeline applies canonical events to shipments.
type Pipeline struct {
	opts Options
}

const defaultTransitWindow = 72 * time.Hour

// New constructs the ingestion pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.UnitOfWork == nil {
		return nil, errs.Validation("pipeline", "unit of work required")
	}
	if opts.Catalog == nil {
		return nil, errs.Validation("pipeline", "source catalog required")
	}
	if opts.TransitWindow <= 0 {
		opts.TransitWindow = defaultTransitWindow
	}
	if strings.TrimSpace(opts.ManualSourceID) == "" {
		opts.ManualSourceID = "manual"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{opts: opts}, nil
}

// Apply ingests one canonical event for a shipment from a source. The event
// append and the derived-state update commit in a single transaction;
// duplicates and rejections leave no trace. Post-commit emission to the hub
// and notification queue is best-effort.
func (p *Pipeline) Apply(ctx context.Context, shipmentID string, event domain.CanonicalEvent, sourceID string) (Outcome, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return OutcomeRejected, errs.Validation("pipeline", "shipment id required")
	}
	if strings.TrimSpace(event.Code) == "" {
		return OutcomeRejected, errs.Validation("pipeline", "event code required")
	}
	if event.EventTime.IsZero() {
		return OutcomeRejected, errs.Validation("pipeline", "event time required")
	}

	source, err := p.opts.Catalog.SourceByID(ctx, sourceID)
	if err != nil {
		return OutcomeRejected, errs.Validation("pipeline", "unknown source id")
	}

	var (
		outcome  = OutcomeRejected
		shipment domain.Shipment
		applied  domain.TrackingEvent
		state    domain.DerivedState
	)
	err = p.opts.UnitOfWork.WithinTx(ctx, func(ctx context.Context, events eventstore.Tx, shipments shipmentstore.Tx) error {
		var txErr error
		shipment, txErr = shipments.GetForUpdate(ctx, shipmentID)
		if txErr != nil {
			return txErr
		}
		if !shipment.TrackingEnabled && source.ID != p.opts.ManualSourceID {
			return errs.New("pipeline", errs.KindValidation,
				errs.WithMessage("tracking disabled for shipment"),
				errs.WithField("reason", "DISABLED"))
		}

		dup, txErr := p.isDuplicate(ctx, events, shipmentID, event, source)
		if txErr != nil {
			return txErr
		}
		if dup {
			outcome = OutcomeDuplicate
			return nil
		}

		now := p.opts.Now()
		applied = domain.TrackingEvent{
			CanonicalEvent: event,
			EventID:        uuid.NewString(),
			ShipmentID:     shipmentID,
			SourceID:       source.ID,
			Processed:      true,
			CreatedAt:      now,
		}
		if txErr = events.Append(ctx, applied); txErr != nil {
			return txErr
		}

		all, txErr := events.ListAll(ctx, shipmentID)
		if txErr != nil {
			return txErr
		}
		state = domain.DeriveState(all)

		update := shipmentstore.StateUpdate{
			ShipmentID:    shipmentID,
			Status:        state.Status,
			Location:      state.Location,
			DeliveryDate:  state.DeliveryDate,
			HasExceptions: state.HasExceptions,
		}
		if state.Status == domain.StatusDeparted && shipment.EstimatedDeliveryDate == nil {
			estimated := state.StatusEventTime.Add(p.opts.TransitWindow)
			update.EstimatedDeliveryDate = &estimated
		}
		if txErr = shipments.ApplyState(ctx, update); txErr != nil {
			return txErr
		}
		// Fold the committed update into the snapshot so the post-commit
		// fan-out broadcasts the shipment as persisted, not as read.
		shipment.CurrentStatus = state.Status
		shipment.CurrentLocation = state.Location
		shipment.DeliveryDate = state.DeliveryDate
		shipment.HasExceptions = state.HasExceptions
		if update.EstimatedDeliveryDate != nil {
			shipment.EstimatedDeliveryDate = update.EstimatedDeliveryDate
		}
		outcome = OutcomeCreated
		return nil
	})
	if err != nil {
		p.record(OutcomeRejected, source.ID, event.Code)
		return OutcomeRejected, err
	}
	p.record(outcome, source.ID, event.Code)
	if outcome != OutcomeCreated {
		return outcome, nil
	}

	p.emit(ctx, shipment, applied, state)
	return OutcomeCreated, nil
}

// isDuplicate applies the time-window dedup rule and the source-precedence
// rule: an existing event with the same code inside the window from a source
// with a lower priority number shadows the candidate even when external ids
// differ.
func (p *Pipeline) isDuplicate(ctx context.Context, events eventstore.Tx, shipmentID string, event domain.CanonicalEvent, source domain.Source) (bool, error) {
	window, err := events.ListCodeWindow(ctx, shipmentID, event.Code, event.EventTime, domain.DedupWindow)
	if err != nil {
		return false, err
	}
	for _, existing := range window {
		if event.DuplicateOf(existing) {
			return true, nil
		}
		existingSource, err := p.opts.Catalog.SourceByID(ctx, existing.SourceID)
		if err != nil {
			continue
		}
		if existingSource.Priority < source.Priority {
			return true, nil
		}
	}
	return false, nil
}

// emit runs the post-commit fan-out. Failures are logged, never surfaced;
// the dispatcher sweeper reconciles missed notifications.
func (p *Pipeline) emit(ctx context.Context, shipment domain.Shipment, event domain.TrackingEvent, state domain.DerivedState) {
	if p.opts.Publisher != nil {
		p.opts.Publisher.PublishEvent(shipment, event, state)
	}
	if p.opts.Notifier == nil {
		return
	}
	if err := p.opts.Notifier.EnqueueEvent(ctx, shipment, event); err != nil {
		observability.Log().Warn("notification enqueue failed",
			observability.Field{Key: "shipment_id", Value: shipment.ID},
			observability.Field{Key: "event_id", Value: event.EventID},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func (p *Pipeline) record(outcome Outcome, sourceID, code string) {
	observability.Telemetry().IncCounter("tracker_events_applied_total", 1, map[string]string{
		"outcome": string(outcome),
		"source":  sourceID,
		"code":    code,
	})
}
