package domain

import (
	"testing"
	"time"
)

var baseTime = time.Date(2025, 8, 5, 10, 0, 0, 0, time.UTC)

func persisted(code string, eventTime time.Time, createdAt time.Time) TrackingEvent {
	return TrackingEvent{
		CanonicalEvent: CanonicalEvent{
			Code:      code,
			Category:  CategoryStatusUpdate,
			EventTime: eventTime,
			Severity:  SeverityInfo,
		},
		EventID:    "evt-" + code,
		ShipmentID: "shp-1",
		SourceID:   "carrier-api",
		CreatedAt:  createdAt,
	}
}

func TestDuplicateOfSameCodeWithinWindow(t *testing.T) {
	existing := persisted(CodeFlightDeparted, baseTime, baseTime)
	candidate := CanonicalEvent{Code: CodeFlightDeparted, EventTime: baseTime.Add(4 * time.Minute)}
	if !candidate.DuplicateOf(existing) {
		t.Fatalf("expected duplicate within window when neither side carries an external id")
	}

	candidate.EventTime = baseTime.Add(-4 * time.Minute)
	if !candidate.DuplicateOf(existing) {
		t.Fatalf("expected duplicate for negative delta within window")
	}
}

func TestDuplicateOfWindowBoundaryIsExclusive(t *testing.T) {
	existing := persisted(CodeFlightDeparted, baseTime, baseTime)
	candidate := CanonicalEvent{Code: CodeFlightDeparted, EventTime: baseTime.Add(DedupWindow)}
	if candidate.DuplicateOf(existing) {
		t.Fatalf("delta equal to the window must not be a duplicate")
	}
	candidate.EventTime = baseTime.Add(DedupWindow - time.Second)
	if !candidate.DuplicateOf(existing) {
		t.Fatalf("delta just inside the window must be a duplicate")
	}
}

func TestDuplicateOfDifferentCodeNeverDuplicates(t *testing.T) {
	existing := persisted(CodeFlightDeparted, baseTime, baseTime)
	candidate := CanonicalEvent{Code: CodeFlightArrived, EventTime: baseTime}
	if candidate.DuplicateOf(existing) {
		t.Fatalf("different codes must never deduplicate")
	}
}

func TestDuplicateOfExternalIDRules(t *testing.T) {
	existing := persisted(CodeFlightDeparted, baseTime, baseTime)
	existing.ExternalID = "feed-123"

	candidate := CanonicalEvent{Code: CodeFlightDeparted, EventTime: baseTime, ExternalID: "feed-123"}
	if !candidate.DuplicateOf(existing) {
		t.Fatalf("matching external ids inside the window must deduplicate")
	}

	candidate.ExternalID = "feed-456"
	if candidate.DuplicateOf(existing) {
		t.Fatalf("distinct external ids must both persist")
	}

	candidate.ExternalID = ""
	if candidate.DuplicateOf(existing) {
		t.Fatalf("one-sided external id must not deduplicate")
	}
}

func TestBeforeOrdersByEventTimeThenCreatedAt(t *testing.T) {
	a := persisted(CodeFlightDeparted, baseTime, baseTime)
	b := persisted(CodeFlightArrived, baseTime.Add(time.Hour), baseTime)
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("expected ordering by event time first")
	}

	c := persisted(CodeFlightArrived, baseTime, baseTime.Add(time.Second))
	if !a.Before(c) {
		t.Fatalf("expected created_at tiebreak when event times are equal")
	}
}

func TestNotifiesOutOfBand(t *testing.T) {
	evt := persisted(CodeLocationUpdate, baseTime, baseTime)
	if evt.NotifiesOutOfBand() {
		t.Fatalf("plain location update must not trigger the critical channel")
	}
	evt.IsMilestone = true
	if !evt.NotifiesOutOfBand() {
		t.Fatalf("milestone events trigger the critical channel")
	}
	evt.IsMilestone = false
	evt.IsException = true
	if !evt.NotifiesOutOfBand() {
		t.Fatalf("exception events trigger the critical channel")
	}
	evt.IsException = false
	evt.IsCritical = true
	if !evt.NotifiesOutOfBand() {
		t.Fatalf("critical events trigger the critical channel")
	}
}

func TestLocationDisplayPrefersAirportCode(t *testing.T) {
	loc := Location{Name: "Changi Cargo Terminal", City: "Singapore", AirportCode: "SIN"}
	if got := loc.Display(); got != "SIN" {
		t.Fatalf("expected airport code, got %q", got)
	}
	loc.AirportCode = ""
	if got := loc.Display(); got != "Changi Cargo Terminal" {
		t.Fatalf("expected name fallback, got %q", got)
	}
	loc.Name = ""
	if got := loc.Display(); got != "Singapore" {
		t.Fatalf("expected city fallback, got %q", got)
	}
	if !(Location{}).Empty() {
		t.Fatalf("zero location must report empty")
	}
}
