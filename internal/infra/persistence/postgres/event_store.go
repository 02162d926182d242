package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
)

// EventStore persists the canonical tracking event log.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore constructs an EventStore backed by the provided pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const (
	eventInsertSQL = `
INSERT INTO tracking_events (
    id,
    shipment_id,
    source_id,
    event_code,
    description,
    category,
    location_name,
    location_country,
    location_city,
    airport_code,
    latitude,
    longitude,
    event_datetime,
    original_timezone,
    is_milestone,
    is_exception,
    is_critical,
    severity,
    external_id,
    source_reference,
    temperature_celsius,
    humidity_percent,
    additional_info,
    customer_visible,
    processed,
    created_at
)
VALUES (
    @id,
    @shipment_id,
    @source_id,
    @event_code,
    @description,
    @category,
    @location_name,
    @location_country,
    @location_city,
    @airport_code,
    @latitude,
    @longitude,
    @event_datetime,
    @original_timezone,
    @is_milestone,
    @is_exception,
    @is_critical,
    @severity,
    @external_id,
    @source_reference,
    @temperature_celsius,
    @humidity_percent,
    @additional_info,
    @customer_visible,
    @processed,
    NOW()
);
`

	eventSelectBase = `
SELECT
    e.id::text,
    e.shipment_id::text,
    e.source_id,
    e.event_code,
    e.description,
    e.category,
    e.location_name,
    e.location_country,
    e.location_city,
    e.airport_code,
    e.latitude,
    e.longitude,
    e.event_datetime,
    e.original_timezone,
    e.is_milestone,
    e.is_exception,
    e.is_critical,
    e.severity,
    e.external_id,
    e.source_reference,
    e.temperature_celsius,
    e.humidity_percent,
    e.additional_info,
    e.customer_visible,
    e.processed,
    e.created_at
FROM tracking_events e
`

	eventStatsSQL = `
SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE is_milestone),
    COUNT(*) FILTER (WHERE is_exception),
    COUNT(*) FILTER (WHERE is_critical),
    COUNT(*) FILTER (WHERE customer_visible),
    COUNT(*) FILTER (WHERE EXISTS (
        SELECT 1 FROM notification_deliveries d
        WHERE d.event_id = tracking_events.id AND d.delivered))
FROM tracking_events
WHERE event_datetime >= $1 AND event_datetime < $2;
`

	eventUnnotifiedSQL = eventSelectBase + `
WHERE EXISTS (
    SELECT 1 FROM subscriptions s
    WHERE s.shipment_id = e.shipment_id
      AND s.active
      AND (s.on_all_events
        OR (s.on_milestone AND e.is_milestone)
        OR (s.on_exception AND e.is_exception)
        OR (s.on_location AND e.category = 'LOCATION_UPDATE'))
      AND NOT EXISTS (
        SELECT 1 FROM notification_deliveries d
        WHERE d.event_id = e.id AND d.subscription_id = s.id))
ORDER BY e.created_at
LIMIT $1;
`

	defaultEventLimit = 50
	maxEventLimit     = 1000
)

func appendEventWith(ctx context.Context, q querier, event domain.TrackingEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("event store: event id required")
	}
	info := event.AdditionalInfo
	if len(info) == 0 {
		info = []byte("{}")
	}
	args := pgx.NamedArgs{
		"id":                  event.EventID,
		"shipment_id":         event.ShipmentID,
		"source_id":           event.SourceID,
		"event_code":          event.Code,
		"description":         event.Description,
		"category":            string(event.Category),
		"location_name":       event.Location.Name,
		"location_country":    event.Location.Country,
		"location_city":       event.Location.City,
		"airport_code":        event.Location.AirportCode,
		"latitude":            nullableFloat(event.Location.Latitude),
		"longitude":           nullableFloat(event.Location.Longitude),
		"event_datetime":      event.EventTime,
		"original_timezone":   event.OriginalTimezone,
		"is_milestone":        event.IsMilestone,
		"is_exception":        event.IsException,
		"is_critical":         event.IsCritical,
		"severity":            string(event.Severity),
		"external_id":         nullableString(event.ExternalID),
		"source_reference":    event.SourceReference,
		"temperature_celsius": nullableFloat(event.TemperatureCelsius),
		"humidity_percent":    nullableFloat(event.HumidityPercent),
		"additional_info":     string(info),
		"customer_visible":    event.CustomerVisible,
		"processed":           event.Processed,
	}
	if _, err := q.Exec(ctx, eventInsertSQL, args); err != nil {
		return fmt.Errorf("event store: insert event: %w", err)
	}
	return nil
}

func listCodeWindowWith(ctx context.Context, q querier, shipmentID, code string, at time.Time, window time.Duration) ([]domain.TrackingEvent, error) {
	sql := eventSelectBase + `
WHERE e.shipment_id = $1
  AND e.event_code = $2
  AND e.event_datetime > $3
  AND e.event_datetime < $4;
`
	rows, err := q.Query(ctx, sql, shipmentID, code, at.Add(-window), at.Add(window))
	if err != nil {
		return nil, fmt.Errorf("event store: list code window: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func listAllWith(ctx context.Context, q querier, shipmentID string) ([]domain.TrackingEvent, error) {
	rows, err := q.Query(ctx, eventSelectBase+" WHERE e.shipment_id = $1;", shipmentID)
	if err != nil {
		return nil, fmt.Errorf("event store: list all: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Append inserts an immutable event row.
func (s *EventStore) Append(ctx context.Context, event domain.TrackingEvent) error {
	return appendEventWith(ctx, s.pool, event)
}

// ListCodeWindow returns the shipment's events with the given code inside the window.
func (s *EventStore) ListCodeWindow(ctx context.Context, shipmentID, code string, at time.Time, window time.Duration) ([]domain.TrackingEvent, error) {
	return listCodeWindowWith(ctx, s.pool, shipmentID, code, at, window)
}

// ListAll returns every event for the shipment, unordered.
func (s *EventStore) ListAll(ctx context.Context, shipmentID string) ([]domain.TrackingEvent, error) {
	return listAllWith(ctx, s.pool, shipmentID)
}

// List retrieves events matching the supplied query filters with pagination.
func (s *EventStore) List(ctx context.Context, query eventstore.Query) ([]domain.TrackingEvent, error) {
	if strings.TrimSpace(query.ShipmentID) == "" {
		return nil, fmt.Errorf("event store: shipment id required")
	}
	limit := clampLimit(query.Limit, defaultEventLimit, maxEventLimit)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	builder := strings.Builder{}
	builder.WriteString(eventSelectBase)
	builder.WriteString(" WHERE e.shipment_id = $1")

	args := []any{query.ShipmentID}
	argPos := 2

	if query.Category != nil {
		fmt.Fprintf(&builder, " AND e.category = $%d", argPos)
		args = append(args, string(*query.Category))
		argPos++
	}
	if query.MilestonesOnly {
		builder.WriteString(" AND e.is_milestone")
	}
	if query.ExceptionsOnly {
		builder.WriteString(" AND e.is_exception")
	}
	if query.CustomerVisibleOnly {
		builder.WriteString(" AND e.customer_visible")
	}
	fmt.Fprintf(&builder, " ORDER BY e.event_datetime DESC, e.created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("event store: list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindByExternalID retrieves events carrying the upstream identifier across sources.
func (s *EventStore) FindByExternalID(ctx context.Context, externalID string) ([]domain.TrackingEvent, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, fmt.Errorf("event store: external id required")
	}
	rows, err := s.pool.Query(ctx, eventSelectBase+" WHERE e.external_id = $1 ORDER BY e.created_at;", trimmed)
	if err != nil {
		return nil, fmt.Errorf("event store: find by external id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Stats aggregates event counts over the half-open range [from, to).
func (s *EventStore) Stats(ctx context.Context, from, to time.Time) (eventstore.Statistics, error) {
	var stats eventstore.Statistics
	if !from.Before(to) {
		return stats, fmt.Errorf("event store: from must precede to")
	}
	row := s.pool.QueryRow(ctx, eventStatsSQL, from, to)
	if err := row.Scan(
		&stats.Total,
		&stats.Milestones,
		&stats.Exceptions,
		&stats.Critical,
		&stats.CustomerVisible,
		&stats.NotificationSent,
	); err != nil {
		return stats, fmt.Errorf("event store: scan stats: %w", err)
	}
	return stats, nil
}

// ListUnnotified returns events matching an active subscription that have no
// delivery record at all. Failed records are terminal and keep the event out.
func (s *EventStore) ListUnnotified(ctx context.Context, limit int) ([]domain.TrackingEvent, error) {
	bounded := clampLimit(limit, defaultEventLimit, maxEventLimit)
	rows, err := s.pool.Query(ctx, eventUnnotifiedSQL, bounded)
	if err != nil {
		return nil, fmt.Errorf("event store: list unnotified: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.TrackingEvent, error) {
	var events []domain.TrackingEvent
	for rows.Next() {
		var (
			evt         domain.TrackingEvent
			latitude    pgtype.Float8
			longitude   pgtype.Float8
			externalID  pgtype.Text
			temperature pgtype.Float8
			humidity    pgtype.Float8
			info        string
			category    string
			severity    string
		)
		if err := rows.Scan(
			&evt.EventID,
			&evt.ShipmentID,
			&evt.SourceID,
			&evt.Code,
			&evt.Description,
			&category,
			&evt.Location.Name,
			&evt.Location.Country,
			&evt.Location.City,
			&evt.Location.AirportCode,
			&latitude,
			&longitude,
			&evt.EventTime,
			&evt.OriginalTimezone,
			&evt.IsMilestone,
			&evt.IsException,
			&evt.IsCritical,
			&severity,
			&externalID,
			&evt.SourceReference,
			&temperature,
			&humidity,
			&info,
			&evt.CustomerVisible,
			&evt.Processed,
			&evt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("event store: scan event: %w", err)
		}
		evt.Category = domain.EventCategory(category)
		evt.Severity = domain.Severity(severity)
		if latitude.Valid {
			v := latitude.Float64
			evt.Location.Latitude = &v
		}
		if longitude.Valid {
			v := longitude.Float64
			evt.Location.Longitude = &v
		}
		if externalID.Valid {
			evt.ExternalID = externalID.String
		}
		if temperature.Valid {
			v := temperature.Float64
			evt.TemperatureCelsius = &v
		}
		if humidity.Valid {
			v := humidity.Float64
			evt.HumidityPercent = &v
		}
		if info != "" && info != "{}" {
			evt.AdditionalInfo = []byte(info)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event store: iterate events: %w", err)
	}
	return events, nil
}
