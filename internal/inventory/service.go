package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultReservationTTL bounds how long a reservation soft-holds stock
// before it becomes eligible for reclamation.
const DefaultReservationTTL = 10 * time.Minute

// Publisher is the event sink. Satisfied by kafka.Producer; nil fields
// disable publishing (tests, memory backend without brokers).
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store Store
	Log   *zap.Logger

	// One producer per topic, wired by the API and reclaimer mains.
	ReservationEvents Publisher // inventory.reservation.created
	ReleaseEvents     Publisher // inventory.reservation.released
	OrderEvents       Publisher // inventory.order.status_changed

	ServiceName    string
	ReservationTTL time.Duration
	Clock          func() time.Time // nil = time.Now
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) ttl() time.Duration {
	if s.ReservationTTL > 0 {
		return s.ReservationTTL
	}
	return DefaultReservationTTL
}

func (s *Service) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Reserve places a time-bounded hold of qty units on the product. The
// stock decrement, reservation row and audit entry commit together.
func (s *Service) Reserve(ctx context.Context, productID string, qty int, actor string) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	expiresAt := s.now().Add(s.ttl())
	res, err := s.Store.ReserveStock(ctx, productID, qty, expiresAt, actor)
	if err != nil {
		return Reservation{}, err
	}

	s.publish(s.ReservationEvents, EventReservationCreated, productID, ReservationCreatedPayload{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		ExpiresAt:     res.ExpiresAt,
	})
	return res, nil
}

// CancelReservation releases a live hold ahead of its expiry. Cancelling a
// reservation that was already reclaimed (or cancelled) is a no-op: the
// reclaimer and a manual cancel may race for the same row.
func (s *Service) CancelReservation(ctx context.Context, reservationID, actor string) error {
	res, err := s.Store.ReleaseReservation(ctx, reservationID, ActionReservationCancelled, actor)
	if errors.Is(err, ErrReservationNotFound) {
		s.logger().Debug("cancel of missing reservation ignored", zap.String("reservation_id", reservationID))
		return nil
	}
	if err != nil {
		return err
	}

	s.publish(s.ReleaseEvents, EventReservationCancelled, res.ProductID, ReservationReleasedPayload{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Reason:        "CANCELLED",
	})
	return nil
}

// TransitionOrder moves an order along the status state machine.
func (s *Service) TransitionOrder(ctx context.Context, orderID string, to Status, actor string) (Order, error) {
	order, from, err := s.Store.TransitionOrder(ctx, orderID, to, actor)
	if err != nil {
		return Order{}, err
	}

	s.publish(s.OrderEvents, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID:   order.ID,
		OldStatus: from,
		NewStatus: order.Status,
		Actor:     actor,
	})
	return order, nil
}

// Restock raises a product's total and available stock together.
func (s *Service) Restock(ctx context.Context, productID string, qty int, actor string) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrInvalidQuantity
	}
	return s.Store.Restock(ctx, productID, qty, actor)
}

// CreateOrder persists an order with item prices snapshotted at order time.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []OrderItemInput) (Order, error) {
	if len(items) == 0 {
		return Order{}, fmt.Errorf("order needs at least one item")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, ErrInvalidQuantity
		}
	}
	return s.Store.CreateOrder(ctx, userID, items)
}

func (s *Service) publish(p Publisher, eventType, key string, payload any) {
	if p == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger().Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   s.now().UTC(),
		Producer:     s.ServiceName,
		Payload:      body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.logger().Error("marshal event envelope", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	p.Publish(PartitionKey(key), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
