// Package domain defines the canonical tracking entities shared across layers.
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cargolink/tracker/errs"
)

// ShipmentStatus enumerates the lifecycle states of a shipment.
type ShipmentStatus string

const (
	// StatusCreated marks a freshly registered shipment.
	StatusCreated ShipmentStatus = "CREATED"
	// StatusBooked marks a shipment with confirmed cargo acceptance.
	StatusBooked ShipmentStatus = "BOOKED"
	// StatusManifested marks a shipment assigned to a flight manifest.
	StatusManifested ShipmentStatus = "MANIFESTED"
	// StatusDeparted marks a shipment whose flight has departed.
	StatusDeparted ShipmentStatus = "DEPARTED"
	// StatusInTransit marks a shipment between transit points.
	StatusInTransit ShipmentStatus = "IN_TRANSIT"
	// StatusArrived marks a shipment arrived at a station.
	StatusArrived ShipmentStatus = "ARRIVED"
	// StatusCustomsClearance marks a shipment under customs processing.
	StatusCustomsClearance ShipmentStatus = "CUSTOMS_CLEARANCE"
	// StatusOutForDelivery marks a shipment on its final leg.
	StatusOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	// StatusDelivered marks a completed shipment.
	StatusDelivered ShipmentStatus = "DELIVERED"
	// StatusCancelled marks an administratively cancelled shipment.
	StatusCancelled ShipmentStatus = "CANCELLED"
	// StatusOnHold marks a shipment paused by an operational hold.
	StatusOnHold ShipmentStatus = "ON_HOLD"
	// StatusException marks a shipment affected by an unplanned condition.
	StatusException ShipmentStatus = "EXCEPTION"
)

var shipmentStatuses = map[ShipmentStatus]struct{}{
	StatusCreated: {}, StatusBooked: {}, StatusManifested: {}, StatusDeparted: {},
	StatusInTransit: {}, StatusArrived: {}, StatusCustomsClearance: {},
	StatusOutForDelivery: {}, StatusDelivered: {}, StatusCancelled: {},
	StatusOnHold: {}, StatusException: {},
}

// ValidStatus reports whether the status is a known shipment status.
func ValidStatus(status ShipmentStatus) bool {
	_, ok := shipmentStatuses[status]
	return ok
}

// Terminal reports whether the status quiesces the shipment for tracking.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// AWBPattern validates air waybill numbers (three-digit prefix, eight-digit serial).
var AWBPattern = regexp.MustCompile(`^[0-9]{3}-[0-9]{8}$`)

// FlightRef identifies the flight a shipment is booked on.
type FlightRef struct {
	Number string    `json:"number,omitempty"`
	Date   time.Time `json:"date"`
}

// Shipment is the long-lived tracking aggregate keyed by AWB.
type Shipment struct {
	ID                 string           `json:"id"`
	AWBNumber          string           `json:"awbNumber"`
	CustomerID         string           `json:"customerId"`
	OriginAirport      string           `json:"originAirport"`
	DestinationAirport string           `json:"destinationAirport"`
	Route              []string         `json:"route,omitempty"`
	Flight             FlightRef        `json:"flight"`
	Pieces             int              `json:"pieces"`
	WeightKg           decimal.Decimal  `json:"weightKg"`
	VolumeM3           *decimal.Decimal `json:"volumeM3,omitempty"`
	Commodity          string           `json:"commodity,omitempty"`
	DeclaredValue      *decimal.Decimal `json:"declaredValue,omitempty"`
	Currency           string           `json:"currency,omitempty"`

	CurrentStatus         ShipmentStatus `json:"currentStatus"`
	CurrentLocation       string         `json:"currentLocation,omitempty"`
	PickupDate            *time.Time     `json:"pickupDate,omitempty"`
	DeliveryDate          *time.Time     `json:"deliveryDate,omitempty"`
	EstimatedDeliveryDate *time.Time     `json:"estimatedDeliveryDate,omitempty"`

	TrackingEnabled   bool       `json:"trackingEnabled"`
	TrackingFrequency int        `json:"trackingFrequencyMinutes"`
	LastTrackedAt     *time.Time `json:"lastTrackedAt,omitempty"`
	HasExceptions     bool       `json:"hasExceptions"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Quiescent reports whether the shipment must be skipped by the poll scheduler.
func (s Shipment) Quiescent() bool {
	return s.CurrentStatus.Terminal()
}

// Validate checks the structural invariants of a shipment.
func (s Shipment) Validate() error {
	if !AWBPattern.MatchString(s.AWBNumber) {
		return errs.Validation("shipment", "awb number must match NNN-NNNNNNNN")
	}
	if strings.TrimSpace(s.CustomerID) == "" {
		return errs.Validation("shipment", "customer id required")
	}
	if len(s.OriginAirport) != 3 || len(s.DestinationAirport) != 3 {
		return errs.Validation("shipment", "origin and destination must be 3-letter airport codes")
	}
	if s.Pieces < 1 {
		return errs.Validation("shipment", "pieces must be at least 1")
	}
	if !s.WeightKg.IsPositive() {
		return errs.Validation("shipment", "weight must be positive")
	}
	if s.TrackingFrequency <= 0 {
		return errs.Validation("shipment", "tracking frequency must be a positive number of minutes")
	}
	if s.CurrentStatus != "" && !ValidStatus(s.CurrentStatus) {
		return errs.Validation("shipment", "unknown shipment status")
	}
	return nil
}
