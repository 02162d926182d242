// Package notify implements the out-of-band notification dispatcher:
// at-least-once delivery of matched events over pluggable methods with
// bounded retry and a reconciliation sweeper.
package notify

import (
	"context"
	"time"

	"github.com/cargolink/tracker/internal/domain"
)

// DeliverStatus classifies one delivery attempt.
type DeliverStatus int

const (
	// DeliverOK marks a completed delivery.
	DeliverOK DeliverStatus = iota
	// DeliverTransient marks a retryable failure.
	DeliverTransient
	// DeliverPermanent marks a failure that must not be retried.
	DeliverPermanent
)

// DeliverResult is the outcome of one delivery attempt.
type DeliverResult struct {
	Status DeliverStatus
	Detail string
}

// Payload carries the data a deliverer renders into its wire format. The
// dispatcher never formats method-specific content itself.
type Payload struct {
	Event    domain.TrackingEvent  `json:"event"`
	AWB      string                `json:"awb"`
	Status   domain.ShipmentStatus `json:"status"`
	Location string                `json:"location,omitempty"`
}

// Deliverer sends one rendered notification over one delivery method.
type Deliverer interface {
	Method() domain.DeliveryMethod
	Deliver(ctx context.Context, endpoint string, payload Payload) DeliverResult
}

// Job is one pending delivery of an event to a subscription.
type Job struct {
	Event        domain.TrackingEvent
	Subscription domain.Subscription
	Payload      Payload
	Attempts     int
	EnqueuedAt   time.Time
}
