package domain

import (
	"time"

	json "github.com/goccy/go-json"
)

// EventCategory classifies a tracking event.
type EventCategory string

const (
	// CategoryStatusUpdate marks a generic status change.
	CategoryStatusUpdate EventCategory = "STATUS_UPDATE"
	// CategoryLocationUpdate marks a positional report without a status change.
	CategoryLocationUpdate EventCategory = "LOCATION_UPDATE"
	// CategoryMilestone marks a significant checkpoint in the journey.
	CategoryMilestone EventCategory = "MILESTONE"
	// CategoryException marks an unplanned condition.
	CategoryException EventCategory = "EXCEPTION"
	// CategoryNotification marks an informational event for subscribers.
	CategoryNotification EventCategory = "NOTIFICATION"
)

// Severity grades the operational impact of an event.
type Severity string

const (
	// SeverityInfo marks routine events.
	SeverityInfo Severity = "INFO"
	// SeverityWarning marks events that may require attention.
	SeverityWarning Severity = "WARNING"
	// SeverityError marks events describing a failure condition.
	SeverityError Severity = "ERROR"
	// SeverityCritical marks events requiring immediate action.
	SeverityCritical Severity = "CRITICAL"
)

// DedupWindow bounds the event-time distance inside which two events with the
// same code are considered the same logical event.
const DedupWindow = 300 * time.Second

// Location carries the structured place attributes of an event.
type Location struct {
	Name        string   `json:"name,omitempty"`
	Country     string   `json:"country,omitempty"`
	City        string   `json:"city,omitempty"`
	AirportCode string   `json:"airportCode,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// Display returns the preferred human label for the location.
func (l Location) Display() string {
	if l.AirportCode != "" {
		return l.AirportCode
	}
	if l.Name != "" {
		return l.Name
	}
	return l.City
}

// Empty reports whether the location carries no usable place information.
func (l Location) Empty() bool {
	return l.AirportCode == "" && l.Name == "" && l.City == ""
}

// CanonicalEvent is an adapter-normalized event prior to persistence. The
// pipeline stamps identity, shipment, and source on Apply.
type CanonicalEvent struct {
	Code        string        `json:"code"`
	Description string        `json:"description,omitempty"`
	Category    EventCategory `json:"category"`
	Location    Location      `json:"location"`

	// EventTime is normalized to UTC; OriginalTimezone preserves the
	// upstream zone designator for auditability.
	EventTime        time.Time `json:"eventTime"`
	OriginalTimezone string    `json:"originalTimezone,omitempty"`

	IsMilestone bool     `json:"isMilestone"`
	IsException bool     `json:"isException"`
	IsCritical  bool     `json:"isCritical"`
	Severity    Severity `json:"severity"`

	// ExternalID is the stable upstream identifier when one exists. Adapters
	// must leave it empty rather than fabricate one.
	ExternalID      string `json:"externalId,omitempty"`
	SourceReference string `json:"sourceReference,omitempty"`

	TemperatureCelsius *float64 `json:"temperatureCelsius,omitempty"`
	HumidityPercent    *float64 `json:"humidityPercent,omitempty"`

	AdditionalInfo  json.RawMessage `json:"additionalInfo,omitempty"`
	CustomerVisible bool            `json:"customerVisible"`
}

// TrackingEvent is the persisted, immutable event record.
type TrackingEvent struct {
	CanonicalEvent

	EventID    string    `json:"eventId"`
	ShipmentID string    `json:"shipmentId"`
	SourceID   string    `json:"sourceId"`
	Processed  bool      `json:"processed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DuplicateOf reports whether the candidate duplicates an existing event for
// the same shipment: same code, event times within the dedup window, and
// either matching external ids (when both are present) or neither side
// carrying one.
func (c CanonicalEvent) DuplicateOf(existing TrackingEvent) bool {
	if c.Code != existing.Code {
		return false
	}
	delta := c.EventTime.Sub(existing.EventTime)
	if delta < 0 {
		delta = -delta
	}
	if delta >= DedupWindow {
		return false
	}
	if c.ExternalID != "" && existing.ExternalID != "" {
		return c.ExternalID == existing.ExternalID
	}
	return c.ExternalID == "" && existing.ExternalID == ""
}

// Before orders events by the (event_datetime, created_at) lexicographic rule
// used for state derivation.
func (e TrackingEvent) Before(other TrackingEvent) bool {
	if !e.EventTime.Equal(other.EventTime) {
		return e.EventTime.Before(other.EventTime)
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// NotifiesOutOfBand reports whether the event warrants a companion
// critical-update message on the push channel.
func (e TrackingEvent) NotifiesOutOfBand() bool {
	return e.IsCritical || e.IsException || e.IsMilestone
}
