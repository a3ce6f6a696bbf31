package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

// StockLedger owns the product stock counters. Both mutations are single
// guarded statements so concurrent callers racing on one product row
// serialize inside Postgres; callers compose them into wider transactions.
type StockLedger struct{}

// Reserve moves qty from available to reserved iff enough stock is
// available. The guard predicate and the decrement are one statement:
// two racing callers can never both pass the check on the same units.
func (StockLedger) Reserve(ctx context.Context, q querier, productID string, qty int) error {
	var total, available, reserved int
	err := q.QueryRow(ctx, `
		UPDATE products
		SET available_stock = available_stock - $2,
		    reserved_stock  = reserved_stock + $2,
		    updated_at      = now()
		WHERE id = $1 AND deleted_at IS NULL AND available_stock >= $2
		RETURNING total_stock, available_stock, reserved_stock`,
		productID, qty,
	).Scan(&total, &available, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)`,
			productID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return inventory.ErrProductNotFound
		}
		return inventory.ErrInsufficientStock
	}
	if err != nil {
		return err
	}
	if available+reserved != total {
		return inventory.ErrInvariantViolation
	}
	return nil
}

// Release moves qty back from reserved to available. Locks the product row
// first; draining reserved below zero means a caller bug and fails the
// transaction with ErrInvariantViolation.
func (StockLedger) Release(ctx context.Context, q querier, productID string, qty int) error {
	var reserved int
	err := q.QueryRow(ctx,
		`SELECT reserved_stock FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		productID,
	).Scan(&reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ErrProductNotFound
	}
	if err != nil {
		return err
	}
	if reserved < qty {
		return inventory.ErrInvariantViolation
	}

	var total, available int
	err = q.QueryRow(ctx, `
		UPDATE products
		SET available_stock = available_stock + $2,
		    reserved_stock  = reserved_stock - $2,
		    updated_at      = now()
		WHERE id = $1
		RETURNING total_stock, available_stock, reserved_stock`,
		productID, qty,
	).Scan(&total, &available, &reserved)
	if err != nil {
		return err
	}
	if available+reserved != total {
		return inventory.ErrInvariantViolation
	}
	return nil
}
