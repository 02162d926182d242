package domain

import (
	"sort"
	"time"
)

// DerivedState is the shipment projection computed from its event log.
type DerivedState struct {
	Status        ShipmentStatus
	Location      string
	DeliveryDate  *time.Time
	HasExceptions bool

	// StatusEventTime is the event_datetime of the winning status event, zero
	// when no event mapped to a status.
	StatusEventTime time.Time
}

// DeriveState folds the full event set of a shipment into its derived state.
// Events may arrive in any persisted order; the winner for status is the
// event with the greatest (event_datetime, created_at) whose code maps to a
// status. Location tracks the winner's location when present, otherwise the
// latest earlier non-empty one. The result is independent of input order.
func DeriveState(events []TrackingEvent) DerivedState {
	sorted := make([]TrackingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})

	state := DerivedState{Status: StatusCreated}
	winner := -1
	for i, evt := range sorted {
		if evt.IsException {
			state.HasExceptions = true
		}
		status, ok := StatusForCode(evt.Code)
		if !ok {
			continue
		}
		winner = i
		state.Status = status
		state.StatusEventTime = evt.EventTime
		if status == StatusDelivered {
			delivered := evt.EventTime
			state.DeliveryDate = &delivered
		} else {
			state.DeliveryDate = nil
		}
	}

	// Location belongs to the status winner; earlier events only fill in when
	// the winner carries no place. Events after the winner never override it.
	last := len(sorted) - 1
	if winner >= 0 {
		last = winner
	}
	for i := last; i >= 0; i-- {
		if !sorted[i].Location.Empty() {
			state.Location = sorted[i].Location.Display()
			break
		}
	}
	return state
}
