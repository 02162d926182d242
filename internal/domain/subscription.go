package domain

import (
	"strings"
	"time"

	"github.com/cargolink/tracker/errs"
)

// DeliveryMethod enumerates notification transports.
type DeliveryMethod string

const (
	// MethodEmail delivers via email.
	MethodEmail DeliveryMethod = "EMAIL"
	// MethodSMS delivers via SMS.
	MethodSMS DeliveryMethod = "SMS"
	// MethodPush delivers via the push channel.
	MethodPush DeliveryMethod = "PUSH"
	// MethodWebhook delivers via an HTTP callback.
	MethodWebhook DeliveryMethod = "WEBHOOK"
)

var deliveryMethods = map[DeliveryMethod]struct{}{
	MethodEmail: {}, MethodSMS: {}, MethodPush: {}, MethodWebhook: {},
}

// ValidDeliveryMethod reports whether the method is a known transport.
func ValidDeliveryMethod(method DeliveryMethod) bool {
	_, ok := deliveryMethods[method]
	return ok
}

// SubscriptionFilter selects which events a subscription wants.
type SubscriptionFilter struct {
	Milestone       bool `json:"milestone"`
	Exception       bool `json:"exception"`
	LocationUpdates bool `json:"locationUpdates"`
	AllEvents       bool `json:"allEvents"`
}

// Subscription registers a subscriber for shipment notifications, unique by
// (shipment, subscriber, method).
type Subscription struct {
	ID           string             `json:"id"`
	ShipmentID   string             `json:"shipmentId"`
	SubscriberID string             `json:"subscriberId"`
	Method       DeliveryMethod     `json:"method"`
	Endpoint     string             `json:"endpoint"`
	Filter       SubscriptionFilter `json:"filter"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Matches reports whether the event satisfies the subscription filter.
func (s Subscription) Matches(event TrackingEvent) bool {
	if !s.Active {
		return false
	}
	if s.Filter.AllEvents {
		return true
	}
	if s.Filter.Milestone && event.IsMilestone {
		return true
	}
	if s.Filter.Exception && event.IsException {
		return true
	}
	if s.Filter.LocationUpdates && event.Category == CategoryLocationUpdate {
		return true
	}
	return false
}

// Validate checks the structural invariants of a subscription.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.ShipmentID) == "" {
		return errs.Validation("subscription", "shipment id required")
	}
	if strings.TrimSpace(s.SubscriberID) == "" {
		return errs.Validation("subscription", "subscriber id required")
	}
	if !ValidDeliveryMethod(s.Method) {
		return errs.Validation("subscription", "unknown delivery method")
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		return errs.Validation("subscription", "delivery endpoint required")
	}
	return nil
}
