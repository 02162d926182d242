// Package eventstore defines persistence contracts for the canonical event log.
package eventstore

import (
	"context"
	"time"

	"github.com/cargolink/tracker/internal/domain"
)

// Query scopes event lookups for a single shipment.
type Query struct {
	ShipmentID          string                `json:"shipmentId"`
	Category            *domain.EventCategory `json:"category,omitempty"`
	MilestonesOnly      bool                  `json:"milestonesOnly,omitempty"`
	ExceptionsOnly      bool                  `json:"exceptionsOnly,omitempty"`
	CustomerVisibleOnly bool                  `json:"customerVisibleOnly,omitempty"`
	Limit               int                   `json:"limit,omitempty"`
	Offset              int                   `json:"offset,omitempty"`
}

// Statistics aggregates event counts over a date range.
type Statistics struct {
	Total            int64 `json:"total"`
	Milestones       int64 `json:"milestones"`
	Exceptions       int64 `json:"exceptions"`
	Critical         int64 `json:"critical"`
	CustomerVisible  int64 `json:"customerVisible"`
	NotificationSent int64 `json:"notificationSent"`
}

// Tx encapsulates event persistence operations executed within a single transaction.
type Tx interface {
	// ListCodeWindow returns the shipment's events with the given code whose
	// event time falls strictly within the window around at. The pipeline
	// applies the duplicate and source-precedence rules on the result.
	ListCodeWindow(ctx context.Context, shipmentID, code string, at time.Time, window time.Duration) ([]domain.TrackingEvent, error)
	// Append inserts an immutable event row.
	Append(ctx context.Context, event domain.TrackingEvent) error
	// ListAll returns every event for the shipment, unordered.
	ListAll(ctx context.Context, shipmentID string) ([]domain.TrackingEvent, error)
}

// Store defines the contract for event log persistence.
type Store interface {
	Tx
	List(ctx context.Context, query Query) ([]domain.TrackingEvent, error)
	FindByExternalID(ctx context.Context, externalID string) ([]domain.TrackingEvent, error)
	Stats(ctx context.Context, from, to time.Time) (Statistics, error)
	// ListUnnotified returns events that match at least one active subscription
	// but have no delivery record; the dispatcher sweeper re-enqueues them.
	// Both delivered and permanently failed records are terminal.
	ListUnnotified(ctx context.Context, limit int) ([]domain.TrackingEvent, error)
}
