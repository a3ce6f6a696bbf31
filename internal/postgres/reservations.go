package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

// ReservationStore persists reservation rows. Reclaimed rows are
// hard-deleted, not tombstoned: a reclaimed reservation has no further
// business relevance.
type ReservationStore struct{}

func (ReservationStore) Create(ctx context.Context, q querier, r inventory.Reservation) (inventory.Reservation, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO reservations (id, product_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		r.ID, r.ProductID, r.Quantity, r.ExpiresAt,
	).Scan(&r.CreatedAt)
	if err != nil {
		return inventory.Reservation{}, err
	}
	return r, nil
}

func (ReservationStore) Get(ctx context.Context, q querier, id string) (inventory.Reservation, error) {
	return scanReservation(q.QueryRow(ctx, `
		SELECT id, product_id, order_id, quantity, expires_at, created_at
		FROM reservations WHERE id = $1`, id))
}

// GetForUpdate locks the reservation row for the caller's transaction.
// A missing row maps to ErrReservationNotFound so racing reclaim/cancel
// paths can treat it as already handled.
func (ReservationStore) GetForUpdate(ctx context.Context, q querier, id string) (inventory.Reservation, error) {
	return scanReservation(q.QueryRow(ctx, `
		SELECT id, product_id, order_id, quantity, expires_at, created_at
		FROM reservations WHERE id = $1 FOR UPDATE`, id))
}

// Expired snapshots every unconverted reservation whose expiry already
// passed. Scan order is unspecified.
func (ReservationStore) Expired(ctx context.Context, q querier, now time.Time) ([]inventory.Reservation, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, order_id, quantity, expires_at, created_at
		FROM reservations
		WHERE expires_at < $1 AND order_id IS NULL`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove deletes the row. Deleting an already-removed reservation is a
// no-op, not an error.
func (ReservationStore) Remove(ctx context.Context, q querier, id string) error {
	_, err := q.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	return err
}

func scanReservation(row pgx.Row) (inventory.Reservation, error) {
	var r inventory.Reservation
	err := row.Scan(&r.ID, &r.ProductID, &r.OrderID, &r.Quantity, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	if err != nil {
		return inventory.Reservation{}, err
	}
	return r, nil
}
