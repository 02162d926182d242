// Package stub provides placeholder adapters for sources whose integrations
// are not yet built. Stubs return no events and never fail, keeping the
// scheduler loop uniform across registered sources.
package stub

import (
	"context"

	"github.com/cargolink/tracker/internal/domain"
)

// Adapter is a no-op source integration.
type Adapter struct {
	sourceID string
}

// NewCarrier constructs the carrier API placeholder.
func NewCarrier() *Adapter {
	return &Adapter{sourceID: "carrier-api"}
}

// NewCustoms constructs the customs API placeholder.
func NewCustoms() *Adapter {
	return &Adapter{sourceID: "customs-api"}
}

// SourceID returns the registry identifier the adapter ingests under.
func (a *Adapter) SourceID() string {
	return a.sourceID
}

// Fetch returns no events.
func (a *Adapter) Fetch(context.Context, domain.Shipment) ([]domain.CanonicalEvent, error) {
	return nil, nil
}
