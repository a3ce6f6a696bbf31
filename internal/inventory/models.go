package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	TotalStock     int        `json:"total_stock"`
	AvailableStock int        `json:"available_stock"`
	ReservedStock  int        `json:"reserved_stock"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// StockBalanced reports whether the ledger counters still add up.
// Checked after every stock mutation; a false here is a bug, not user error.
func (p Product) StockBalanced() bool {
	return p.AvailableStock+p.ReservedStock == p.TotalStock
}

// Reservation is a time-bounded hold on product stock. It is hard-deleted
// when reclaimed or cancelled; OrderID is set if it was converted instead.
type Reservation struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	OrderID   *string   `json:"order_id,omitempty"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Status    Status          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Items     []OrderItem     `json:"items,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// OrderItem snapshots quantity and unit price at order time.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// AuditEntry is an append-only record of a state-changing action.
// Entries are never updated or deleted.
type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor,omitempty"` // empty = anonymous/system
	Action     string         `json:"action"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	OldValue   map[string]any `json:"old_value,omitempty"`
	NewValue   map[string]any `json:"new_value,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

const (
	ActionReservationCreated   = "reservation_created"
	ActionReservationExpired   = "reservation_expired"
	ActionReservationCancelled = "reservation_cancelled"
	ActionStatusChanged        = "status_changed"
	ActionProductRestocked     = "product_restocked"
)

const (
	ObjectProduct     = "Product"
	ObjectReservation = "Reservation"
	ObjectOrder       = "Order"
)
