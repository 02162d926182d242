package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cargolink/tracker/errs"
)

func validShipment() Shipment {
	return Shipment{
		ID:                 "shp-1",
		AWBNumber:          "125-12345678",
		CustomerID:         "cust-1",
		OriginAirport:      "SIN",
		DestinationAirport: "FRA",
		Pieces:             2,
		WeightKg:           decimal.NewFromFloat(120.5),
		CurrentStatus:      StatusCreated,
		TrackingEnabled:    true,
		TrackingFrequency:  30,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestShipmentValidateAcceptsWellFormed(t *testing.T) {
	if err := validShipment().Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestShipmentValidateRejectsBadAWB(t *testing.T) {
	for _, awb := range []string{"", "12-12345678", "1234-12345678", "125-1234567", "125-123456789", "abc-12345678", "12512345678"} {
		s := validShipment()
		s.AWBNumber = awb
		err := s.Validate()
		if err == nil {
			t.Fatalf("awb %q must be rejected", awb)
		}
		if !errs.IsKind(err, errs.KindValidation) {
			t.Fatalf("awb %q: expected validation kind, got %v", awb, err)
		}
	}
}

func TestShipmentValidateStructuralRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Shipment)
	}{
		{"blank customer", func(s *Shipment) { s.CustomerID = "  " }},
		{"bad origin", func(s *Shipment) { s.OriginAirport = "SING" }},
		{"bad destination", func(s *Shipment) { s.DestinationAirport = "" }},
		{"zero pieces", func(s *Shipment) { s.Pieces = 0 }},
		{"zero weight", func(s *Shipment) { s.WeightKg = decimal.Zero }},
		{"zero frequency", func(s *Shipment) { s.TrackingFrequency = 0 }},
		{"bogus status", func(s *Shipment) { s.CurrentStatus = "TELEPORTED" }},
	}
	for _, tc := range cases {
		s := validShipment()
		tc.mutate(&s)
		if err := s.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestQuiescentOnTerminalStatus(t *testing.T) {
	s := validShipment()
	if s.Quiescent() {
		t.Fatalf("active shipment must not be quiescent")
	}
	s.CurrentStatus = StatusDelivered
	if !s.Quiescent() {
		t.Fatalf("delivered shipment must be quiescent")
	}
	s.CurrentStatus = StatusCancelled
	if !s.Quiescent() {
		t.Fatalf("cancelled shipment must be quiescent")
	}
	s.CurrentStatus = StatusOnHold
	if s.Quiescent() {
		t.Fatalf("on-hold shipment still polls")
	}
}
