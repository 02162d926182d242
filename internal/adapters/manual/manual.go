// Package manual wraps operator-supplied tracking events as an ingestion
// source. Unlike polled adapters it never fetches anything; operators submit
// canonical events directly and the adapter only validates them.
package manual

import (
	"context"
	"strings"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
)

// SourceID is the registry identifier manual entries ingest under.
const SourceID = "manual"

// Adapter validates operator-entered canonical events.
type Adapter struct{}

// New constructs a manual entry adapter.
func New() *Adapter {
	return &Adapter{}
}

// SourceID returns the registry identifier the adapter ingests under.
func (a *Adapter) SourceID() string {
	return SourceID
}

// Fetch returns no events; manual entries arrive via Prepare, not polling.
func (a *Adapter) Fetch(context.Context, domain.Shipment) ([]domain.CanonicalEvent, error) {
	return nil, nil
}

// Prepare validates and normalizes an operator-entered event for ingestion.
func (a *Adapter) Prepare(event domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if strings.TrimSpace(event.Code) == "" {
		return domain.CanonicalEvent{}, errs.Validation("manual adapter", "event code required")
	}
	if event.EventTime.IsZero() {
		return domain.CanonicalEvent{}, errs.Validation("manual adapter", "event time required")
	}
	event.Code = strings.ToUpper(strings.TrimSpace(event.Code))
	if event.OriginalTimezone == "" {
		event.OriginalTimezone = event.EventTime.Format("-07:00")
	}
	event.EventTime = event.EventTime.UTC()
	if event.Category == "" {
		event.Category = domain.CategoryStatusUpdate
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityInfo
	}
	return event, nil
}
