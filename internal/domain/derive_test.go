package domain

import (
	"testing"
	"time"
)

func statusEvent(code string, offset time.Duration) TrackingEvent {
	at := baseTime.Add(offset)
	return persisted(code, at, at)
}

func TestDeriveStateEmptyLog(t *testing.T) {
	state := DeriveState(nil)
	if state.Status != StatusCreated {
		t.Fatalf("empty log must derive CREATED, got %s", state.Status)
	}
	if state.DeliveryDate != nil || state.HasExceptions || state.Location != "" {
		t.Fatalf("empty log must derive a zero projection: %+v", state)
	}
}

func TestDeriveStateWinnerByEventTime(t *testing.T) {
	events := []TrackingEvent{
		statusEvent(CodeFlightArrived, 6*time.Hour),
		statusEvent(CodeCargoCollected, 0),
		statusEvent(CodeFlightDeparted, 2*time.Hour),
	}
	state := DeriveState(events)
	if state.Status != StatusArrived {
		t.Fatalf("expected ARRIVED from the latest status event, got %s", state.Status)
	}
	if !state.StatusEventTime.Equal(baseTime.Add(6 * time.Hour)) {
		t.Fatalf("expected winner event time, got %s", state.StatusEventTime)
	}
}

func TestDeriveStateOrderIndependent(t *testing.T) {
	events := []TrackingEvent{
		statusEvent(CodeCargoCollected, 0),
		statusEvent(CodeFlightDeparted, 2*time.Hour),
		statusEvent(CodeFlightArrived, 6*time.Hour),
		statusEvent(CodeCustomsCleared, 8*time.Hour),
	}
	want := DeriveState(events)

	permuted := []TrackingEvent{events[3], events[0], events[2], events[1]}
	got := DeriveState(permuted)
	if got.Status != want.Status || !got.StatusEventTime.Equal(want.StatusEventTime) || got.Location != want.Location {
		t.Fatalf("derivation must be order independent: want %+v got %+v", want, got)
	}
}

func TestDeriveStateCreatedAtTiebreak(t *testing.T) {
	first := persisted(CodeFlightDeparted, baseTime, baseTime)
	second := persisted(CodeCustomsHold, baseTime, baseTime.Add(time.Second))
	state := DeriveState([]TrackingEvent{second, first})
	if state.Status != StatusOnHold {
		t.Fatalf("expected the later created_at to win the tie, got %s", state.Status)
	}
}

func TestDeriveStateUnknownCodesDoNotDriveStatus(t *testing.T) {
	unknown := statusEvent("HANDLER_SCAN", 3*time.Hour)
	events := []TrackingEvent{
		statusEvent(CodeFlightDeparted, 0),
		unknown,
	}
	state := DeriveState(events)
	if state.Status != StatusDeparted {
		t.Fatalf("unknown code must not change status, got %s", state.Status)
	}
	if !state.StatusEventTime.Equal(baseTime) {
		t.Fatalf("winner must remain the departure event")
	}
}

func TestDeriveStateDeliveredSetsDeliveryDate(t *testing.T) {
	deliveredAt := baseTime.Add(48 * time.Hour)
	events := []TrackingEvent{
		statusEvent(CodeFlightDeparted, 0),
		statusEvent(CodeDelivered, 48*time.Hour),
	}
	state := DeriveState(events)
	if state.Status != StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", state.Status)
	}
	if state.DeliveryDate == nil || !state.DeliveryDate.Equal(deliveredAt) {
		t.Fatalf("expected delivery date %s, got %v", deliveredAt, state.DeliveryDate)
	}
}

func TestDeriveStateLaterStatusClearsDeliveryDate(t *testing.T) {
	events := []TrackingEvent{
		statusEvent(CodeDelivered, 0),
		statusEvent(CodeDamageReported, time.Hour),
	}
	state := DeriveState(events)
	if state.Status != StatusException {
		t.Fatalf("expected EXCEPTION to supersede, got %s", state.Status)
	}
	if state.DeliveryDate != nil {
		t.Fatalf("delivery date must clear when a later status event wins")
	}
}

func TestDeriveStateLocationFold(t *testing.T) {
	departed := statusEvent(CodeFlightDeparted, 0)
	departed.Location = Location{AirportCode: "SIN"}
	// The winner carries no location, so the latest earlier one holds.
	arrived := statusEvent(CodeFlightArrived, 6*time.Hour)

	state := DeriveState([]TrackingEvent{arrived, departed})
	if state.Location != "SIN" {
		t.Fatalf("expected location from the latest located event, got %q", state.Location)
	}

	arrived.Location = Location{AirportCode: "FRA"}
	state = DeriveState([]TrackingEvent{departed, arrived})
	if state.Location != "FRA" {
		t.Fatalf("expected the winner's location, got %q", state.Location)
	}
}

func TestDeriveStateLocationIgnoresEventsAfterWinner(t *testing.T) {
	delivered := statusEvent(CodeDelivered, 48*time.Hour)
	delivered.Location = Location{AirportCode: "HKG"}
	scan := statusEvent(CodeLocationUpdate, 50*time.Hour)
	scan.Category = CategoryLocationUpdate
	scan.Location = Location{AirportCode: "PVG"}

	state := DeriveState([]TrackingEvent{delivered, scan})
	if state.Status != StatusDelivered {
		t.Fatalf("location updates must not change status, got %s", state.Status)
	}
	if state.Location != "HKG" {
		t.Fatalf("a scan after the status winner must not move the location, got %q", state.Location)
	}

	// When the winner has no location, only earlier events may fill it in.
	delivered.Location = Location{}
	earlier := statusEvent(CodeLocationUpdate, 40*time.Hour)
	earlier.Category = CategoryLocationUpdate
	earlier.Location = Location{AirportCode: "SZX"}
	state = DeriveState([]TrackingEvent{scan, delivered, earlier})
	if state.Location != "SZX" {
		t.Fatalf("expected the latest location before the winner, got %q", state.Location)
	}
}

func TestDeriveStateExceptionFlagSticks(t *testing.T) {
	damage := statusEvent(CodeDamageReported, time.Hour)
	damage.IsException = true
	events := []TrackingEvent{
		statusEvent(CodeFlightDeparted, 0),
		damage,
		statusEvent(CodeFlightArrived, 6*time.Hour),
	}
	state := DeriveState(events)
	if !state.HasExceptions {
		t.Fatalf("exception flag must persist after recovery")
	}
	if state.Status != StatusArrived {
		t.Fatalf("later status still wins, got %s", state.Status)
	}
}

func TestStatusForCodeNeverDerivesCancelled(t *testing.T) {
	for code, status := range statusByCode {
		if status == StatusCancelled {
			t.Fatalf("code %s must not derive CANCELLED", code)
		}
	}
	if _, ok := StatusForCode("CANCELLED"); ok {
		t.Fatalf("CANCELLED is administrative and never event-derived")
	}
	if _, ok := StatusForCode(CodeLocationUpdate); ok {
		t.Fatalf("location updates must not participate in derivation")
	}
}
