package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
)

// UnitOfWork runs event-append and shipment-update work inside one
// transaction, which is how Apply keeps the event log and the derived state
// consistent.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork constructs a UnitOfWork over the shared pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

type eventTx struct {
	tx pgx.Tx
}

func (t eventTx) Append(ctx context.Context, event domain.TrackingEvent) error {
	return appendEventWith(ctx, t.tx, event)
}

func (t eventTx) ListCodeWindow(ctx context.Context, shipmentID, code string, at time.Time, window time.Duration) ([]domain.TrackingEvent, error) {
	return listCodeWindowWith(ctx, t.tx, shipmentID, code, at, window)
}

func (t eventTx) ListAll(ctx context.Context, shipmentID string) ([]domain.TrackingEvent, error) {
	return listAllWith(ctx, t.tx, shipmentID)
}

type shipmentTx struct {
	tx pgx.Tx
}

func (t shipmentTx) GetForUpdate(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	return getShipmentWith(ctx, t.tx, " WHERE s.id = $1 FOR UPDATE;", shipmentID)
}

func (t shipmentTx) ApplyState(ctx context.Context, update shipmentstore.StateUpdate) error {
	return applyStateWith(ctx, t.tx, update)
}

// WithinTx executes fn inside a read-committed read-write transaction,
// handing it transaction-scoped event and shipment surfaces.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(context.Context, eventstore.Tx, shipmentstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("unit of work: callback required")
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := u.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("unit of work: begin tx: %w", err)
	}
	runErr := fn(ctx, eventTx{tx: tx}, shipmentTx{tx: tx})
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("unit of work: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("unit of work: commit tx: %w", err)
	}
	return nil
}
