// Package memstore is the in-memory inventory.Store backend. It backs the
// service in dev mode (STORE_BACKEND=memory) and the behavioral tests; all
// operations apply under one lock, so every Store method is atomic exactly
// like its SQL counterpart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

type Store struct {
	mu           sync.Mutex
	products     map[string]*inventory.Product
	reservations map[string]*inventory.Reservation
	orders       map[string]*inventory.Order
	audit        []inventory.AuditEntry
}

func New() *Store {
	return &Store{
		products:     make(map[string]*inventory.Product),
		reservations: make(map[string]*inventory.Reservation),
		orders:       make(map[string]*inventory.Order),
	}
}

func (s *Store) CreateProduct(ctx context.Context, name string, totalStock int) (inventory.Product, error) {
	if totalStock < 0 {
		return inventory.Product{}, inventory.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p := &inventory.Product{
		ID:             uuid.NewString(),
		Name:           name,
		TotalStock:     totalStock,
		AvailableStock: totalStock,
		ReservedStock:  0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.products[p.ID] = p
	return *p, nil
}

func (s *Store) Product(ctx context.Context, id string) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.aliveProduct(id)
	if err != nil {
		return inventory.Product{}, err
	}
	return *p, nil
}

func (s *Store) Products(ctx context.Context) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]inventory.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.DeletedAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.aliveProduct(id)
	if err != nil {
		return err
	}
	now := time.Now()
	p.DeletedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *Store) Restock(ctx context.Context, productID string, qty int, actor string) (inventory.Product, error) {
	if qty <= 0 {
		return inventory.Product{}, inventory.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.aliveProduct(productID)
	if err != nil {
		return inventory.Product{}, err
	}
	oldTotal := p.TotalStock
	p.TotalStock += qty
	p.AvailableStock += qty
	if !p.StockBalanced() {
		p.TotalStock = oldTotal
		p.AvailableStock -= qty
		return inventory.Product{}, inventory.ErrInvariantViolation
	}
	p.UpdatedAt = time.Now()

	s.appendAudit(actor, inventory.ActionProductRestocked, inventory.ObjectProduct, p.ID,
		map[string]any{"total_stock": oldTotal},
		map[string]any{"total_stock": p.TotalStock},
	)
	return *p, nil
}

func (s *Store) ReserveStock(ctx context.Context, productID string, qty int, expiresAt time.Time, actor string) (inventory.Reservation, error) {
	if qty <= 0 {
		return inventory.Reservation{}, inventory.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.aliveProduct(productID)
	if err != nil {
		return inventory.Reservation{}, err
	}
	if p.AvailableStock < qty {
		return inventory.Reservation{}, inventory.ErrInsufficientStock
	}

	p.AvailableStock -= qty
	p.ReservedStock += qty
	if !p.StockBalanced() {
		p.AvailableStock += qty
		p.ReservedStock -= qty
		return inventory.Reservation{}, inventory.ErrInvariantViolation
	}
	p.UpdatedAt = time.Now()

	r := &inventory.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	s.reservations[r.ID] = r

	s.appendAudit(actor, inventory.ActionReservationCreated, inventory.ObjectReservation, r.ID,
		nil,
		map[string]any{"product": productID, "quantity": qty},
	)
	return *r, nil
}

func (s *Store) ReleaseReservation(ctx context.Context, reservationID, action, actor string) (inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	p, err := s.aliveProduct(r.ProductID)
	if err != nil {
		// product gone: keep the reservation so the failure stays visible
		return inventory.Reservation{}, err
	}
	if p.ReservedStock < r.Quantity {
		return inventory.Reservation{}, inventory.ErrInvariantViolation
	}

	p.AvailableStock += r.Quantity
	p.ReservedStock -= r.Quantity
	if !p.StockBalanced() {
		p.AvailableStock -= r.Quantity
		p.ReservedStock += r.Quantity
		return inventory.Reservation{}, inventory.ErrInvariantViolation
	}
	p.UpdatedAt = time.Now()

	s.appendAudit(actor, action, inventory.ObjectReservation, r.ID,
		map[string]any{"product": r.ProductID, "quantity": r.Quantity},
		nil,
	)
	released := *r
	delete(s.reservations, reservationID)
	return released, nil
}

func (s *Store) Reservation(ctx context.Context, id string) (inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	return *r, nil
}

func (s *Store) ExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []inventory.Reservation
	for _, r := range s.reservations {
		if r.OrderID == nil && r.Expired(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) CreateOrder(ctx context.Context, userID string, items []inventory.OrderItemInput) (inventory.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	o := &inventory.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    inventory.StatusPending,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return inventory.Order{}, inventory.ErrInvalidQuantity
		}
		if _, err := s.aliveProduct(it.ProductID); err != nil {
			return inventory.Order{}, err
		}
		o.Items = append(o.Items, inventory.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
		o.Total = o.Total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (s *Store) Order(ctx context.Context, id string) (inventory.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return inventory.Order{}, inventory.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, to inventory.Status, actor string) (inventory.Order, inventory.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.DeletedAt != nil {
		return inventory.Order{}, "", inventory.ErrOrderNotFound
	}
	from := o.Status
	if !inventory.CanTransition(from, to) {
		return inventory.Order{}, "", &inventory.InvalidTransitionError{From: from, To: to}
	}
	o.Status = to
	o.UpdatedAt = time.Now()

	s.appendAudit(actor, inventory.ActionStatusChanged, inventory.ObjectOrder, o.ID,
		map[string]any{"status": string(from)},
		map[string]any{"status": string(to)},
	)
	return cloneOrder(o), from, nil
}

func (s *Store) AuditEntries(ctx context.Context, objectType, objectID string) ([]inventory.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []inventory.AuditEntry
	for _, e := range s.audit {
		if objectType != "" && e.ObjectType != objectType {
			continue
		}
		if objectID != "" && e.ObjectID != objectID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// callers hold s.mu
func (s *Store) aliveProduct(id string) (*inventory.Product, error) {
	p, ok := s.products[id]
	if !ok || p.DeletedAt != nil {
		return nil, inventory.ErrProductNotFound
	}
	return p, nil
}

// callers hold s.mu
func (s *Store) appendAudit(actor, action, objectType, objectID string, oldValue, newValue map[string]any) {
	s.audit = append(s.audit, inventory.AuditEntry{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  time.Now(),
	})
}

func cloneOrder(o *inventory.Order) inventory.Order {
	out := *o
	out.Items = append([]inventory.OrderItem(nil), o.Items...)
	return out
}
