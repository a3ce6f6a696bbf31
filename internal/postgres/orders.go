package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

func (s *Store) CreateOrder(ctx context.Context, userID string, items []inventory.OrderItemInput) (inventory.Order, error) {
	order := inventory.Order{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: inventory.StatusPending,
		Total:  decimal.Zero,
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return inventory.Order{}, inventory.ErrInvalidQuantity
		}
		order.Total = order.Total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (id, user_id, status, total)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at`,
			order.ID, order.UserID, order.Status, order.Total.String(),
		).Scan(&order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return err
		}

		for _, it := range items {
			// snapshot of quantity and unit price at order time
			item := inventory.OrderItem{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4, $5)`,
				item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price.String(),
			); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
		}
		return nil
	})
	if err != nil {
		return inventory.Order{}, err
	}
	return order, nil
}

func (s *Store) Order(ctx context.Context, id string) (inventory.Order, error) {
	order, err := s.getOrder(ctx, s.pool, id, false)
	if err != nil {
		return inventory.Order{}, err
	}
	order.Items, err = s.orderItems(ctx, s.pool, id)
	if err != nil {
		return inventory.Order{}, err
	}
	return order, nil
}

// TransitionOrder validates and applies one state-machine step. The row
// stays locked from the status read to the audit append, so concurrent
// transitions on the same order serialize and each sees the real
// predecessor status.
func (s *Store) TransitionOrder(ctx context.Context, orderID string, to inventory.Status, actor string) (inventory.Order, inventory.Status, error) {
	var (
		order inventory.Order
		from  inventory.Status
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.getOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		from = locked.Status
		if !inventory.CanTransition(from, to) {
			return &inventory.InvalidTransitionError{From: from, To: to}
		}

		order = locked
		if _, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
			orderID, to,
		); err != nil {
			return err
		}
		order.Status = to

		_, err = s.audit.Append(ctx, tx, inventory.AuditEntry{
			Actor:      actor,
			Action:     inventory.ActionStatusChanged,
			ObjectType: inventory.ObjectOrder,
			ObjectID:   orderID,
			OldValue:   map[string]any{"status": string(from)},
			NewValue:   map[string]any{"status": string(to)},
		})
		return err
	})
	if err != nil {
		return inventory.Order{}, "", err
	}
	return order, from, nil
}

func (s *Store) getOrder(ctx context.Context, q querier, id string, forUpdate bool) (inventory.Order, error) {
	query := `SELECT id, user_id, status, total::text, created_at, updated_at, deleted_at
		FROM orders WHERE id = $1 AND deleted_at IS NULL`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		o     inventory.Order
		total string
	)
	err := q.QueryRow(ctx, query, id).Scan(&o.ID, &o.UserID, &o.Status, &total,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Order{}, inventory.ErrOrderNotFound
	}
	if err != nil {
		return inventory.Order{}, err
	}
	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return inventory.Order{}, err
	}
	return o, nil
}

func (s *Store) orderItems(ctx context.Context, q querier, orderID string) ([]inventory.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price::text
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.OrderItem
	for rows.Next() {
		var (
			it    inventory.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
