// Package substore defines persistence contracts for notification subscriptions.
package substore

import (
	"context"
	"time"

	"github.com/cargolink/tracker/internal/domain"
)

// DeliveryRecord tracks one completed or failed delivery of an event to a
// subscription. Presence of a delivered record is what the sweeper checks.
type DeliveryRecord struct {
	EventID        string     `json:"eventId"`
	SubscriptionID string     `json:"subscriptionId"`
	Attempts       int        `json:"attempts"`
	Delivered      bool       `json:"delivered"`
	LastError      string     `json:"lastError,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

// Store defines the contract for subscription persistence.
type Store interface {
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	GetByID(ctx context.Context, id string) (domain.Subscription, error)
	ListActiveByShipment(ctx context.Context, shipmentID string) ([]domain.Subscription, error)
	Deactivate(ctx context.Context, id string) error

	// RecordDelivery upserts the delivery outcome for (event, subscription).
	RecordDelivery(ctx context.Context, record DeliveryRecord) error
	// ListDeliveries returns delivery records for an event.
	ListDeliveries(ctx context.Context, eventID string) ([]DeliveryRecord, error)
}
