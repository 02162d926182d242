package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/substore"
)

// SubscriptionStore persists notification subscriptions and delivery records.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore constructs a SubscriptionStore backed by the provided pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const (
	subscriptionInsertSQL = `
INSERT INTO subscriptions (
    id,
    shipment_id,
    subscriber_id,
    method,
    endpoint,
    on_milestone,
    on_exception,
    on_location,
    on_all_events,
    active,
    created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW());
`

	subscriptionSelectBase = `
SELECT
    s.id::text,
    s.shipment_id::text,
    s.subscriber_id,
    s.method,
    s.endpoint,
    s.on_milestone,
    s.on_exception,
    s.on_location,
    s.on_all_events,
    s.active,
    s.created_at
FROM subscriptions s
`

	deliveryUpsertSQL = `
INSERT INTO notification_deliveries (
    event_id,
    subscription_id,
    attempts,
    delivered,
    last_error,
    delivered_at,
    updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (event_id, subscription_id) DO UPDATE SET
    attempts = EXCLUDED.attempts,
    delivered = EXCLUDED.delivered,
    last_error = EXCLUDED.last_error,
    delivered_at = EXCLUDED.delivered_at,
    updated_at = NOW();
`
)

// Create inserts a new active subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return domain.Subscription{}, err
	}
	if _, err := s.pool.Exec(ctx, subscriptionInsertSQL,
		sub.ID,
		sub.ShipmentID,
		sub.SubscriberID,
		string(sub.Method),
		sub.Endpoint,
		sub.Filter.Milestone,
		sub.Filter.Exception,
		sub.Filter.LocationUpdates,
		sub.Filter.AllEvents,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Subscription{}, errs.New("subscription store", errs.KindDuplicate,
				errs.WithMessage("subscription already exists for shipment, subscriber, and method"))
		}
		return domain.Subscription{}, errs.Store("subscription store", fmt.Errorf("insert subscription: %w", err))
	}
	sub.Active = true
	return sub, nil
}

// GetByID looks up a subscription.
func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, subscriptionSelectBase+" WHERE s.id = $1;", id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, errs.NotFound("subscription store", "subscription not found")
		}
		return domain.Subscription{}, errs.Store("subscription store", err)
	}
	return sub, nil
}

// ListActiveByShipment returns the active subscriptions for a shipment.
func (s *SubscriptionStore) ListActiveByShipment(ctx context.Context, shipmentID string) ([]domain.Subscription, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return nil, errs.Validation("subscription store", "shipment id required")
	}
	rows, err := s.pool.Query(ctx, subscriptionSelectBase+" WHERE s.shipment_id = $1 AND s.active ORDER BY s.created_at;", shipmentID)
	if err != nil {
		return nil, errs.Store("subscription store", fmt.Errorf("list active: %w", err))
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errs.Store("subscription store", fmt.Errorf("scan subscription: %w", err))
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("subscription store", fmt.Errorf("iterate subscriptions: %w", err))
	}
	return subs, nil
}

// Deactivate marks a subscription inactive; subscriptions are never hard-deleted.
func (s *SubscriptionStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE subscriptions SET active = FALSE WHERE id = $1;", id)
	if err != nil {
		return errs.Store("subscription store", fmt.Errorf("deactivate: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("subscription store", "subscription not found")
	}
	return nil
}

// RecordDelivery upserts the delivery outcome for (event, subscription).
func (s *SubscriptionStore) RecordDelivery(ctx context.Context, record substore.DeliveryRecord) error {
	if _, err := s.pool.Exec(ctx, deliveryUpsertSQL,
		record.EventID,
		record.SubscriptionID,
		record.Attempts,
		record.Delivered,
		record.LastError,
		nullableTime(record.DeliveredAt),
	); err != nil {
		return errs.Store("subscription store", fmt.Errorf("record delivery: %w", err))
	}
	return nil
}

// ListDeliveries returns delivery records for an event.
func (s *SubscriptionStore) ListDeliveries(ctx context.Context, eventID string) ([]substore.DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT event_id::text, subscription_id::text, attempts, delivered, last_error, delivered_at
FROM notification_deliveries
WHERE event_id = $1;`, eventID)
	if err != nil {
		return nil, errs.Store("subscription store", fmt.Errorf("list deliveries: %w", err))
	}
	defer rows.Close()

	var records []substore.DeliveryRecord
	for rows.Next() {
		var (
			record      substore.DeliveryRecord
			deliveredAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&record.EventID,
			&record.SubscriptionID,
			&record.Attempts,
			&record.Delivered,
			&record.LastError,
			&deliveredAt,
		); err != nil {
			return nil, errs.Store("subscription store", fmt.Errorf("scan delivery: %w", err))
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			record.DeliveredAt = &t
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("subscription store", fmt.Errorf("iterate deliveries: %w", err))
	}
	return records, nil
}

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var (
		sub    domain.Subscription
		method string
	)
	if err := row.Scan(
		&sub.ID,
		&sub.ShipmentID,
		&sub.SubscriberID,
		&method,
		&sub.Endpoint,
		&sub.Filter.Milestone,
		&sub.Filter.Exception,
		&sub.Filter.LocationUpdates,
		&sub.Filter.AllEvents,
		&sub.Active,
		&sub.CreatedAt,
	); err != nil {
		return domain.Subscription{}, err
	}
	sub.Method = domain.DeliveryMethod(method)
	return sub, nil
}
