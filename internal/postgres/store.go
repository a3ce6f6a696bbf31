package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx, so the ledger,
// reservation and audit components compose into one transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements inventory.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool

	ledger       StockLedger
	reservations ReservationStore
	audit        AuditTrail
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateProduct(ctx context.Context, name string, totalStock int) (inventory.Product, error) {
	if totalStock < 0 {
		return inventory.Product{}, inventory.ErrInvalidQuantity
	}
	p := inventory.Product{
		ID:             uuid.NewString(),
		Name:           name,
		TotalStock:     totalStock,
		AvailableStock: totalStock,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, total_stock, available_stock, reserved_stock)
		VALUES ($1, $2, $3, $3, 0)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.TotalStock,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return inventory.Product{}, err
	}
	return p, nil
}

const productCols = `id, name, total_stock, available_stock, reserved_stock, created_at, updated_at, deleted_at`

func (s *Store) Product(ctx context.Context, id string) (inventory.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *Store) Products(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productCols+` FROM products WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE products SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (s *Store) Restock(ctx context.Context, productID string, qty int, actor string) (inventory.Product, error) {
	if qty <= 0 {
		return inventory.Product{}, inventory.ErrInvalidQuantity
	}
	var p inventory.Product
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var oldTotal int
		err := tx.QueryRow(ctx,
			`SELECT total_stock FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
			productID,
		).Scan(&oldTotal)
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.ErrProductNotFound
		}
		if err != nil {
			return err
		}

		p, err = scanProduct(tx.QueryRow(ctx, `
			UPDATE products
			SET total_stock = total_stock + $2,
			    available_stock = available_stock + $2,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+productCols, productID, qty))
		if err != nil {
			return err
		}
		if !p.StockBalanced() {
			return inventory.ErrInvariantViolation
		}

		_, err = s.audit.Append(ctx, tx, inventory.AuditEntry{
			Actor:      actor,
			Action:     inventory.ActionProductRestocked,
			ObjectType: inventory.ObjectProduct,
			ObjectID:   productID,
			OldValue:   map[string]any{"total_stock": oldTotal},
			NewValue:   map[string]any{"total_stock": p.TotalStock},
		})
		return err
	})
	if err != nil {
		return inventory.Product{}, err
	}
	return p, nil
}

// ReserveStock is the reserve protocol: guarded decrement, reservation row
// and audit entry commit or roll back together.
func (s *Store) ReserveStock(ctx context.Context, productID string, qty int, expiresAt time.Time, actor string) (inventory.Reservation, error) {
	if qty <= 0 {
		return inventory.Reservation{}, inventory.ErrInvalidQuantity
	}
	var res inventory.Reservation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.ledger.Reserve(ctx, tx, productID, qty); err != nil {
			return err
		}

		var err error
		res, err = s.reservations.Create(ctx, tx, inventory.Reservation{
			ID:        uuid.NewString(),
			ProductID: productID,
			Quantity:  qty,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}

		_, err = s.audit.Append(ctx, tx, inventory.AuditEntry{
			Actor:      actor,
			Action:     inventory.ActionReservationCreated,
			ObjectType: inventory.ObjectReservation,
			ObjectID:   res.ID,
			NewValue:   map[string]any{"product": productID, "quantity": qty},
		})
		return err
	})
	if err != nil {
		return inventory.Reservation{}, err
	}
	return res, nil
}

// ReleaseReservation reclaims one reservation in its own transaction:
// lock the row, give the quantity back through the ledger, audit, delete.
func (s *Store) ReleaseReservation(ctx context.Context, reservationID, action, actor string) (inventory.Reservation, error) {
	var res inventory.Reservation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = s.reservations.GetForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, res.ProductID, res.Quantity); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, inventory.AuditEntry{
			Actor:      actor,
			Action:     action,
			ObjectType: inventory.ObjectReservation,
			ObjectID:   res.ID,
			OldValue:   map[string]any{"product": res.ProductID, "quantity": res.Quantity},
		}); err != nil {
			return err
		}
		return s.reservations.Remove(ctx, tx, res.ID)
	})
	if err != nil {
		return inventory.Reservation{}, err
	}
	return res, nil
}

func (s *Store) Reservation(ctx context.Context, id string) (inventory.Reservation, error) {
	return s.reservations.Get(ctx, s.pool, id)
}

func (s *Store) ExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Reservation, error) {
	return s.reservations.Expired(ctx, s.pool, now)
}

func (s *Store) AuditEntries(ctx context.Context, objectType, objectID string) ([]inventory.AuditEntry, error) {
	return s.audit.List(ctx, s.pool, objectType, objectID)
}

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(&p.ID, &p.Name, &p.TotalStock, &p.AvailableStock, &p.ReservedStock,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, err
	}
	return p, nil
}
