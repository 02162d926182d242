// Package shipmentstore defines persistence contracts for shipment aggregates.
package shipmentstore

import (
	"context"
	"time"

	"github.com/cargolink/tracker/internal/domain"
)

// StateUpdate carries the derived fields recomputed on event application.
type StateUpdate struct {
	ShipmentID            string
	Status                domain.ShipmentStatus
	Location              string
	DeliveryDate          *time.Time
	EstimatedDeliveryDate *time.Time
	HasExceptions         bool
}

// HistoryQuery scopes per-customer shipment listings.
type HistoryQuery struct {
	CustomerID string
	Limit      int
	Offset     int
}

// Tx encapsulates shipment mutations executed within a single transaction.
type Tx interface {
	// GetForUpdate loads a shipment and locks its row for the duration of the
	// transaction.
	GetForUpdate(ctx context.Context, shipmentID string) (domain.Shipment, error)
	// ApplyState writes the derived projection fields.
	ApplyState(ctx context.Context, update StateUpdate) error
}

// Store defines the contract for shipment persistence.
type Store interface {
	Tx
	Create(ctx context.Context, shipment domain.Shipment) error
	GetByID(ctx context.Context, shipmentID string) (domain.Shipment, error)
	GetByAWB(ctx context.Context, awb string) (domain.Shipment, error)
	ListByCustomer(ctx context.Context, query HistoryQuery) ([]domain.Shipment, error)
	// ListDueForPoll returns at most limit shipments that are tracking-enabled,
	// non-quiescent, and whose last_tracked_at predates now by at least their
	// tracking frequency (or is unset).
	ListDueForPoll(ctx context.Context, now time.Time, limit int) ([]domain.Shipment, error)
	// MarkTracked stamps last_tracked_at with the tick time.
	MarkTracked(ctx context.Context, shipmentID string, trackedAt time.Time) error
	SetTrackingEnabled(ctx context.Context, shipmentID string, enabled bool) error
	// Cancel applies the administrative CANCELLED status.
	Cancel(ctx context.Context, shipmentID string) error
}
