package inventory_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
	"github.com/ariefcatur/go-stock-reserve.git/internal/memstore"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []inventory.Envelope
}

func (c *capturePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	var env inventory.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, env)
}

func (c *capturePublisher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func newService(t *testing.T) (*inventory.Service, *memstore.Store, *capturePublisher) {
	t.Helper()
	store := memstore.New()
	pub := &capturePublisher{}
	svc := &inventory.Service{
		Store:             store,
		ReservationEvents: pub,
		ReleaseEvents:     pub,
		OrderEvents:       pub,
		ServiceName:       "test",
	}
	return svc, store, pub
}

func requireStock(t *testing.T, store inventory.Store, productID string, available, reserved, total int) {
	t.Helper()
	p, err := store.Product(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, available, p.AvailableStock, "available_stock")
	assert.Equal(t, reserved, p.ReservedStock, "reserved_stock")
	assert.Equal(t, total, p.TotalStock, "total_stock")
	assert.True(t, p.StockBalanced(), "available + reserved must equal total")
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)

	res, err := svc.Reserve(ctx, p.ID, 3, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.ProductID)
	assert.Equal(t, 3, res.Quantity)
	assert.WithinDuration(t, time.Now().Add(inventory.DefaultReservationTTL), res.ExpiresAt, 2*time.Second)

	requireStock(t, store, p.ID, 7, 3, 10)

	entries, err := store.AuditEntries(ctx, inventory.ObjectReservation, res.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, inventory.ActionReservationCreated, entries[0].Action)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, p.ID, entries[0].NewValue["product"])
	assert.Equal(t, 3, entries[0].NewValue["quantity"])
	assert.Nil(t, entries[0].OldValue)

	assert.Equal(t, []string{inventory.EventReservationCreated}, pub.types())
}

func TestReserveHonorsConfiguredTTL(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &inventory.Service{
		Store:          store,
		ServiceName:    "test",
		ReservationTTL: 30 * time.Minute,
		Clock:          func() time.Time { return fixed },
	}

	p, err := store.CreateProduct(ctx, "widget", 5)
	require.NoError(t, err)

	res, err := svc.Reserve(ctx, p.ID, 1, "")
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(fixed.Add(30*time.Minute)))
}

func TestReserveRejections(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, p.ID, 0, "")
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = svc.Reserve(ctx, p.ID, -2, "")
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = svc.Reserve(ctx, "no-such-product", 1, "")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	_, err = svc.Reserve(ctx, p.ID, 15, "")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// a failed reserve leaves the counters untouched
	requireStock(t, store, p.ID, 10, 0, 10)
}

func TestReserveSoftDeletedProduct(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 5)
	require.NoError(t, err)
	require.NoError(t, store.DeleteProduct(ctx, p.ID))

	_, err = svc.Reserve(ctx, p.ID, 1, "")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

// With total_stock = 20 and 60 competing callers, exactly 20 must win and
// the other 40 must fail with ErrInsufficientStock.
func TestConcurrentReserves(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	const total = 20
	const callers = 60

	p, err := store.CreateProduct(ctx, "hot item", total)
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, p.ID, 1, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, inventory.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, succeeded)
	assert.Equal(t, callers-total, insufficient)
	requireStock(t, store, p.ID, 0, total, total)
}

func TestReleaseExpiredRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)

	res, err := svc.Reserve(ctx, p.ID, 3, "")
	require.NoError(t, err)
	requireStock(t, store, p.ID, 7, 3, 10)

	// before expiry nothing is eligible
	result, err := svc.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Reclaimed)
	requireStock(t, store, p.ID, 7, 3, 10)

	after := res.ExpiresAt.Add(time.Minute)
	result, err = svc.ReleaseExpired(ctx, after)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)
	assert.Empty(t, result.Failures)
	requireStock(t, store, p.ID, 10, 0, 10)

	_, err = store.Reservation(ctx, res.ID)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)

	entries, err := store.AuditEntries(ctx, inventory.ObjectReservation, res.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inventory.ActionReservationExpired, entries[1].Action)
	assert.Equal(t, p.ID, entries[1].OldValue["product"])
	assert.Equal(t, 3, entries[1].OldValue["quantity"])
	assert.Nil(t, entries[1].NewValue)

	assert.Equal(t,
		[]string{inventory.EventReservationCreated, inventory.EventReservationExpired},
		pub.types())
}

func TestReleaseExpiredIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	res, err := svc.Reserve(ctx, p.ID, 4, "")
	require.NoError(t, err)

	after := res.ExpiresAt.Add(time.Minute)

	first, err := svc.ReleaseExpired(ctx, after)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Reclaimed)

	second, err := svc.ReleaseExpired(ctx, after)
	require.NoError(t, err)
	assert.Zero(t, second.Reclaimed, "second pass must be a no-op")
	assert.Empty(t, second.Failures)

	requireStock(t, store, p.ID, 10, 0, 10)
}

// A product tombstoned while its reservation is pending reclamation must
// not abort the pass: the failure is reported and other reservations are
// still reclaimed.
func TestReleaseExpiredContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	gone, err := store.CreateProduct(ctx, "discontinued", 5)
	require.NoError(t, err)
	alive, err := store.CreateProduct(ctx, "widget", 5)
	require.NoError(t, err)

	resGone, err := svc.Reserve(ctx, gone.ID, 2, "")
	require.NoError(t, err)
	resAlive, err := svc.Reserve(ctx, alive.ID, 2, "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteProduct(ctx, gone.ID))

	after := resGone.ExpiresAt.Add(time.Minute)
	result, err := svc.ReleaseExpired(ctx, after)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Reclaimed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, resGone.ID, result.Failures[0].ReservationID)
	assert.Equal(t, gone.ID, result.Failures[0].ProductID)

	requireStock(t, store, alive.ID, 5, 0, 5)
	_, err = store.Reservation(ctx, resAlive.ID)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	res, err := svc.Reserve(ctx, p.ID, 3, "bob")
	require.NoError(t, err)

	require.NoError(t, svc.CancelReservation(ctx, res.ID, "bob"))
	requireStock(t, store, p.ID, 10, 0, 10)

	// cancel may race with the reclaimer; the loser is a no-op
	require.NoError(t, svc.CancelReservation(ctx, res.ID, "bob"))
	requireStock(t, store, p.ID, 10, 0, 10)

	// the reclaimer no longer sees it either
	result, err := svc.ReleaseExpired(ctx, res.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, result.Reclaimed)
	requireStock(t, store, p.ID, 10, 0, 10)

	entries, err := store.AuditEntries(ctx, inventory.ObjectReservation, res.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inventory.ActionReservationCancelled, entries[1].Action)
}

func TestRestock(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, p.ID, 4, "")
	require.NoError(t, err)

	updated, err := svc.Restock(ctx, p.ID, 5, "ops")
	require.NoError(t, err)
	assert.Equal(t, 15, updated.TotalStock)
	requireStock(t, store, p.ID, 11, 4, 15)

	_, err = svc.Restock(ctx, p.ID, 0, "ops")
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	entries, err := store.AuditEntries(ctx, inventory.ObjectProduct, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, inventory.ActionProductRestocked, entries[0].Action)
	assert.Equal(t, 10, entries[0].OldValue["total_stock"])
	assert.Equal(t, 15, entries[0].NewValue["total_stock"])
}

func TestTransitionOrder(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	order, err := svc.CreateOrder(ctx, "user-1", []inventory.OrderItemInput{
		{ProductID: p.ID, Quantity: 2, Price: decimal.NewFromFloat(9.99)},
	})
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.NewFromFloat(19.98)))

	// pending -> delivered is not a legal move
	_, err = svc.TransitionOrder(ctx, order.ID, inventory.StatusDelivered, "user-1")
	var invalid *inventory.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "pending")
	assert.Contains(t, err.Error(), "delivered")

	for _, next := range []inventory.Status{
		inventory.StatusConfirmed,
		inventory.StatusProcessing,
		inventory.StatusShipped,
		inventory.StatusDelivered,
	} {
		order, err = svc.TransitionOrder(ctx, order.ID, next, "user-1")
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
	}

	// delivered is terminal
	_, err = svc.TransitionOrder(ctx, order.ID, inventory.StatusCancelled, "user-1")
	require.ErrorAs(t, err, &invalid)

	entries, err := store.AuditEntries(ctx, inventory.ObjectOrder, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "pending", entries[0].OldValue["status"])
	assert.Equal(t, "confirmed", entries[0].NewValue["status"])
	assert.Equal(t, "shipped", entries[3].OldValue["status"])
	assert.Equal(t, "delivered", entries[3].NewValue["status"])

	assert.Equal(t, 4, countEvents(pub, inventory.EventOrderStatusChanged))
}

func TestTransitionShippedToCancelledFails(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	order, err := svc.CreateOrder(ctx, "user-1", []inventory.OrderItemInput{
		{ProductID: p.ID, Quantity: 1, Price: decimal.NewFromInt(5)},
	})
	require.NoError(t, err)

	for _, next := range []inventory.Status{inventory.StatusConfirmed, inventory.StatusProcessing, inventory.StatusShipped} {
		_, err = svc.TransitionOrder(ctx, order.ID, next, "")
		require.NoError(t, err)
	}

	_, err = svc.TransitionOrder(ctx, order.ID, inventory.StatusCancelled, "")
	var invalid *inventory.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, inventory.StatusShipped, invalid.From)
	assert.Equal(t, inventory.StatusCancelled, invalid.To)
}

func TestTransitionUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.TransitionOrder(ctx, "no-such-order", inventory.StatusConfirmed, "")
	assert.ErrorIs(t, err, inventory.ErrOrderNotFound)
}

// The end-to-end scenario: 10 total, reserve 3, overdraw rejected, reclaim
// restores the pre-reservation counters exactly.
func TestReserveExpireReclaimScenario(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	p, err := store.CreateProduct(ctx, "widget", 10)
	require.NoError(t, err)
	requireStock(t, store, p.ID, 10, 0, 10)

	res, err := svc.Reserve(ctx, p.ID, 3, "")
	require.NoError(t, err)
	requireStock(t, store, p.ID, 7, 3, 10)

	_, err = svc.Reserve(ctx, p.ID, 15, "")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	requireStock(t, store, p.ID, 7, 3, 10)

	result, err := svc.ReleaseExpired(ctx, res.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)
	requireStock(t, store, p.ID, 10, 0, 10)

	_, err = store.Reservation(ctx, res.ID)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)

	entries, err := store.AuditEntries(ctx, inventory.ObjectReservation, res.ID)
	require.NoError(t, err)
	var expired int
	for _, e := range entries {
		if e.Action == inventory.ActionReservationExpired {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func countEvents(pub *capturePublisher, eventType string) int {
	n := 0
	for _, et := range pub.types() {
		if et == eventType {
			n++
		}
	}
	return n
}
