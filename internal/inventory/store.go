package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence port. Every method is one atomic unit of work:
// it either fully applies (row mutations + audit entry together) or leaves
// state unchanged. Implemented by postgres and memstore.
type Store interface {
	CreateProduct(ctx context.Context, name string, totalStock int) (Product, error)
	Product(ctx context.Context, id string) (Product, error)
	Products(ctx context.Context) ([]Product, error)
	// DeleteProduct tombstones the row; alive queries stop returning it.
	DeleteProduct(ctx context.Context, id string) error
	// Restock raises total_stock and available_stock together and audits it.
	Restock(ctx context.Context, productID string, qty int, actor string) (Product, error)

	// ReserveStock atomically checks available_stock >= qty, moves qty from
	// available to reserved, creates the reservation row and the
	// reservation_created audit entry. All of it is one transaction: if the
	// reservation insert fails the decrement rolls back too.
	ReserveStock(ctx context.Context, productID string, qty int, expiresAt time.Time, actor string) (Reservation, error)
	// ReleaseReservation moves the held quantity back to available, appends
	// an audit entry with the given action, and hard-deletes the
	// reservation. Returns ErrReservationNotFound if the row is already
	// gone (callers treat that as an idempotent no-op).
	ReleaseReservation(ctx context.Context, reservationID, action, actor string) (Reservation, error)
	Reservation(ctx context.Context, id string) (Reservation, error)
	// ExpiredReservations snapshots all unconverted reservations with
	// expires_at before now. Scan order is unspecified.
	ExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error)

	CreateOrder(ctx context.Context, userID string, items []OrderItemInput) (Order, error)
	Order(ctx context.Context, id string) (Order, error)
	// TransitionOrder locks the order row, validates the move against the
	// transition table and writes status + status_changed audit entry in
	// one transaction. Returns the updated order and the status it left.
	TransitionOrder(ctx context.Context, orderID string, to Status, actor string) (Order, Status, error)

	AuditEntries(ctx context.Context, objectType, objectID string) ([]AuditEntry, error)
}

type OrderItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
