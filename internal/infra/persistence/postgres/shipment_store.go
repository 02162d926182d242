package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
)

// ShipmentStore persists shipment aggregates and their derived state.
type ShipmentStore struct {
	pool *pgxpool.Pool
}

// NewShipmentStore constructs a ShipmentStore backed by the provided pool.
func NewShipmentStore(pool *pgxpool.Pool) *ShipmentStore {
	return &ShipmentStore{pool: pool}
}

const (
	shipmentInsertSQL = `
INSERT INTO shipments (
    id,
    awb_number,
    customer_id,
    origin_airport,
    destination_airport,
    route,
    flight_number,
    flight_date,
    pieces,
    weight_kg,
    volume_m3,
    commodity,
    declared_value,
    currency,
    current_status,
    current_location,
    pickup_date,
    tracking_enabled,
    tracking_frequency_mins,
    created_at,
    updated_at
)
VALUES (
    @id,
    @awb_number,
    @customer_id,
    @origin_airport,
    @destination_airport,
    @route,
    @flight_number,
    @flight_date,
    @pieces,
    @weight_kg,
    @volume_m3,
    @commodity,
    @declared_value,
    @currency,
    @current_status,
    @current_location,
    @pickup_date,
    @tracking_enabled,
    @tracking_frequency_mins,
    NOW(),
    NOW()
);
`

	shipmentSelectBase = `
SELECT
    s.id::text,
    s.awb_number,
    s.customer_id,
    s.origin_airport,
    s.destination_airport,
    s.route,
    s.flight_number,
    s.flight_date,
    s.pieces,
    s.weight_kg::text,
    s.volume_m3::text,
    s.commodity,
    s.declared_value::text,
    s.currency,
    s.current_status,
    s.current_location,
    s.pickup_date,
    s.delivery_date,
    s.estimated_delivery_date,
    s.tracking_enabled,
    s.tracking_frequency_mins,
    s.last_tracked_at,
    s.has_exceptions,
    s.created_at,
    s.updated_at
FROM shipments s
`

	shipmentStateSQL = `
UPDATE shipments
SET current_status = @status,
    current_location = @location,
    delivery_date = @delivery_date,
    estimated_delivery_date = COALESCE(@estimated_delivery_date, estimated_delivery_date),
    has_exceptions = @has_exceptions,
    updated_at = NOW()
WHERE id = @id;
`

	shipmentDueSQL = shipmentSelectBase + `
WHERE s.tracking_enabled
  AND s.current_status NOT IN ('DELIVERED', 'CANCELLED')
  AND (s.last_tracked_at IS NULL
    OR s.last_tracked_at + make_interval(mins => s.tracking_frequency_mins) <= $1)
ORDER BY s.last_tracked_at NULLS FIRST
LIMIT $2;
`

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func getShipmentWith(ctx context.Context, q querier, where string, arg any) (domain.Shipment, error) {
	row := q.QueryRow(ctx, shipmentSelectBase+where, arg)
	shipment, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Shipment{}, errs.NotFound("shipment store", "shipment not found")
		}
		return domain.Shipment{}, errs.Store("shipment store", err)
	}
	return shipment, nil
}

func applyStateWith(ctx context.Context, q querier, update shipmentstore.StateUpdate) error {
	args := pgx.NamedArgs{
		"id":                      update.ShipmentID,
		"status":                  string(update.Status),
		"location":                update.Location,
		"delivery_date":           nullableTime(update.DeliveryDate),
		"estimated_delivery_date": nullableTime(update.EstimatedDeliveryDate),
		"has_exceptions":          update.HasExceptions,
	}
	tag, err := q.Exec(ctx, shipmentStateSQL, args)
	if err != nil {
		return errs.Store("shipment store", fmt.Errorf("apply state: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("shipment store", "shipment not found")
	}
	return nil
}

// Create inserts a new shipment aggregate.
func (s *ShipmentStore) Create(ctx context.Context, shipment domain.Shipment) error {
	if err := shipment.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(shipment.ID) == "" {
		shipment.ID = uuid.NewString()
	}
	status := shipment.CurrentStatus
	if status == "" {
		status = domain.StatusCreated
	}
	var flightDate any
	if !shipment.Flight.Date.IsZero() {
		flightDate = shipment.Flight.Date
	}
	var volume, declared any
	if shipment.VolumeM3 != nil {
		volume = shipment.VolumeM3.String()
	}
	if shipment.DeclaredValue != nil {
		declared = shipment.DeclaredValue.String()
	}
	args := pgx.NamedArgs{
		"id":                      shipment.ID,
		"awb_number":              shipment.AWBNumber,
		"customer_id":             shipment.CustomerID,
		"origin_airport":          shipment.OriginAirport,
		"destination_airport":     shipment.DestinationAirport,
		"route":                   shipment.Route,
		"flight_number":           nullableString(shipment.Flight.Number),
		"flight_date":             flightDate,
		"pieces":                  shipment.Pieces,
		"weight_kg":               shipment.WeightKg.String(),
		"volume_m3":               volume,
		"commodity":               nullableString(shipment.Commodity),
		"declared_value":          declared,
		"currency":                nullableString(shipment.Currency),
		"current_status":          string(status),
		"current_location":        shipment.CurrentLocation,
		"pickup_date":             nullableTime(shipment.PickupDate),
		"tracking_enabled":        shipment.TrackingEnabled,
		"tracking_frequency_mins": shipment.TrackingFrequency,
	}
	if _, err := s.pool.Exec(ctx, shipmentInsertSQL, args); err != nil {
		return errs.Store("shipment store", fmt.Errorf("insert shipment: %w", err))
	}
	return nil
}

// GetByID looks up a shipment by its opaque identifier.
func (s *ShipmentStore) GetByID(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	return getShipmentWith(ctx, s.pool, " WHERE s.id = $1;", shipmentID)
}

// GetByAWB looks up a shipment by air waybill number.
func (s *ShipmentStore) GetByAWB(ctx context.Context, awb string) (domain.Shipment, error) {
	return getShipmentWith(ctx, s.pool, " WHERE s.awb_number = $1;", awb)
}

// GetForUpdate loads a shipment and locks its row for the transaction.
func (s *ShipmentStore) GetForUpdate(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	return getShipmentWith(ctx, s.pool, " WHERE s.id = $1 FOR UPDATE;", shipmentID)
}

// ApplyState writes the derived projection fields.
func (s *ShipmentStore) ApplyState(ctx context.Context, update shipmentstore.StateUpdate) error {
	return applyStateWith(ctx, s.pool, update)
}

// ListByCustomer returns a page of shipments owned by a customer, newest first.
func (s *ShipmentStore) ListByCustomer(ctx context.Context, query shipmentstore.HistoryQuery) ([]domain.Shipment, error) {
	if strings.TrimSpace(query.CustomerID) == "" {
		return nil, errs.Validation("shipment store", "customer id required")
	}
	limit := clampLimit(query.Limit, defaultHistoryLimit, maxHistoryLimit)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		shipmentSelectBase+" WHERE s.customer_id = $1 ORDER BY s.created_at DESC LIMIT $2 OFFSET $3;",
		query.CustomerID, limit, offset)
	if err != nil {
		return nil, errs.Store("shipment store", fmt.Errorf("list by customer: %w", err))
	}
	defer rows.Close()
	return scanShipments(rows)
}

// ListDueForPoll returns shipments eligible for refresh at now, oldest first.
func (s *ShipmentStore) ListDueForPoll(ctx context.Context, now time.Time, limit int) ([]domain.Shipment, error) {
	bounded := clampLimit(limit, 100, 1000)
	rows, err := s.pool.Query(ctx, shipmentDueSQL, now, bounded)
	if err != nil {
		return nil, errs.Store("shipment store", fmt.Errorf("list due: %w", err))
	}
	defer rows.Close()
	return scanShipments(rows)
}

// MarkTracked stamps last_tracked_at with the tick time.
func (s *ShipmentStore) MarkTracked(ctx context.Context, shipmentID string, trackedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE shipments SET last_tracked_at = $2, updated_at = NOW() WHERE id = $1;",
		shipmentID, trackedAt)
	if err != nil {
		return errs.Store("shipment store", fmt.Errorf("mark tracked: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("shipment store", "shipment not found")
	}
	return nil
}

// SetTrackingEnabled toggles polling for a shipment.
func (s *ShipmentStore) SetTrackingEnabled(ctx context.Context, shipmentID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE shipments SET tracking_enabled = $2, updated_at = NOW() WHERE id = $1;",
		shipmentID, enabled)
	if err != nil {
		return errs.Store("shipment store", fmt.Errorf("set tracking enabled: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("shipment store", "shipment not found")
	}
	return nil
}

// Cancel applies the administrative CANCELLED status.
func (s *ShipmentStore) Cancel(ctx context.Context, shipmentID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE shipments SET current_status = 'CANCELLED', updated_at = NOW() WHERE id = $1;",
		shipmentID)
	if err != nil {
		return errs.Store("shipment store", fmt.Errorf("cancel: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("shipment store", "shipment not found")
	}
	return nil
}

func scanShipments(rows pgx.Rows) ([]domain.Shipment, error) {
	var shipments []domain.Shipment
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, errs.Store("shipment store", fmt.Errorf("scan shipment: %w", err))
		}
		shipments = append(shipments, shipment)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("shipment store", fmt.Errorf("iterate shipments: %w", err))
	}
	return shipments, nil
}

func scanShipment(row pgx.Row) (domain.Shipment, error) {
	var (
		shipment      domain.Shipment
		flightNumber  pgtype.Text
		flightDate    pgtype.Date
		weight        string
		volume        pgtype.Text
		commodity     pgtype.Text
		declared      pgtype.Text
		currency      pgtype.Text
		status        string
		pickupDate    pgtype.Timestamptz
		deliveryDate  pgtype.Timestamptz
		estimatedDate pgtype.Timestamptz
		lastTracked   pgtype.Timestamptz
	)
	if err := row.Scan(
		&shipment.ID,
		&shipment.AWBNumber,
		&shipment.CustomerID,
		&shipment.OriginAirport,
		&shipment.DestinationAirport,
		&shipment.Route,
		&flightNumber,
		&flightDate,
		&shipment.Pieces,
		&weight,
		&volume,
		&commodity,
		&declared,
		&currency,
		&status,
		&shipment.CurrentLocation,
		&pickupDate,
		&deliveryDate,
		&estimatedDate,
		&shipment.TrackingEnabled,
		&shipment.TrackingFrequency,
		&lastTracked,
		&shipment.HasExceptions,
		&shipment.CreatedAt,
		&shipment.UpdatedAt,
	); err != nil {
		return domain.Shipment{}, err
	}
	shipment.CurrentStatus = domain.ShipmentStatus(status)
	if flightNumber.Valid {
		shipment.Flight.Number = flightNumber.String
	}
	if flightDate.Valid {
		shipment.Flight.Date = flightDate.Time
	}
	parsedWeight, err := decimal.NewFromString(weight)
	if err != nil {
		return domain.Shipment{}, fmt.Errorf("parse weight: %w", err)
	}
	shipment.WeightKg = parsedWeight
	if volume.Valid {
		v, err := decimal.NewFromString(volume.String)
		if err != nil {
			return domain.Shipment{}, fmt.Errorf("parse volume: %w", err)
		}
		shipment.VolumeM3 = &v
	}
	if commodity.Valid {
		shipment.Commodity = commodity.String
	}
	if declared.Valid {
		v, err := decimal.NewFromString(declared.String)
		if err != nil {
			return domain.Shipment{}, fmt.Errorf("parse declared value: %w", err)
		}
		shipment.DeclaredValue = &v
	}
	if currency.Valid {
		shipment.Currency = currency.String
	}
	if pickupDate.Valid {
		t := pickupDate.Time
		shipment.PickupDate = &t
	}
	if deliveryDate.Valid {
		t := deliveryDate.Time
		shipment.DeliveryDate = &t
	}
	if estimatedDate.Valid {
		t := estimatedDate.Time
		shipment.EstimatedDeliveryDate = &t
	}
	if lastTracked.Valid {
		t := lastTracked.Time
		shipment.LastTrackedAt = &t
	}
	return shipment, nil
}
