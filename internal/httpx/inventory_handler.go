package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
)

// InventoryHandler is the HTTP edge over the inventory core. Writes go
// through the service; reads hit the store directly.
type InventoryHandler struct {
	Svc     *inventory.Service
	Store   inventory.Store
	Redis   *redis.Client       // optional fast paths; nil disables them
	Reclaim inventory.Publisher // inventory.reclaim.requested, optional
	Service string
}

type CreateProductReq struct {
	Name       string `json:"name"`
	TotalStock int    `json:"total_stock"`
}

type RestockReq struct {
	Quantity int `json:"quantity"`
}

type ReserveReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReserveResp struct {
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
	Idempotent    bool      `json:"idempotent,omitempty"`
}

type CreateOrderReq struct {
	UserID string                     `json:"user_id"`
	Items  []inventory.OrderItemInput `json:"items"`
}

type TransitionReq struct {
	Status string `json:"status"`
}

func (h *InventoryHandler) Register(r *chi.Mux) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Delete("/products/{id}", h.deleteProduct)
	r.Post("/products/{id}/restock", h.restock)

	r.Post("/reservations", h.reserve)
	r.Delete("/reservations/{id}", h.cancelReservation)

	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/confirm", h.transitionTo(inventory.StatusConfirmed))
	r.Post("/orders/{id}/cancel", h.transitionTo(inventory.StatusCancelled))
	r.Post("/orders/{id}/transition", h.transition)

	r.Get("/audit", h.listAudit)
	r.Post("/internal/reclaim", h.requestReclaim)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the core failure taxonomy onto HTTP codes: stock and
// transition rejections are client errors, unknown ids are 404, anything
// else (storage faults, invariant trips) is a server error.
func statusFor(err error) int {
	var invalid *inventory.InvalidTransitionError
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrOrderNotFound),
		errors.Is(err, inventory.ErrReservationNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

func (h *InventoryHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.TotalStock < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Store.CreateProduct(ctx, req.Name, req.TotalStock)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *InventoryHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.Products(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, short TTL keeps counters near-live
	key := fmt.Sprintf(redisx.KeyProductStock, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	p, err := h.Store.Product(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.Redis != nil {
		if b, err := json.Marshal(p); err == nil {
			_ = h.Redis.Set(ctx, key, b, redisx.TTLStockCache).Err()
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.DeleteProduct(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Svc.Restock(ctx, chi.URLParam(r, "id"), req.Quantity, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	h.invalidateStock(ctx, p.ID)
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing product_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path idempotency via redis; the store stays the source of truth
	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" && h.Redis != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemReserve, k)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			if res, err := h.Store.Reservation(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, ReserveResp{
					ReservationID: res.ID,
					ProductID:     res.ProductID,
					Quantity:      res.Quantity,
					ExpiresAt:     res.ExpiresAt,
					Idempotent:    true,
				})
				return
			}
			// reservation already reclaimed; fall through and reserve anew
		}
	}

	res, err := h.Svc.Reserve(ctx, req.ProductID, req.Quantity, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, res.ID, redisx.TTLIdempotency).Err()
	}
	h.invalidateStock(ctx, res.ProductID)

	writeJSON(w, http.StatusCreated, ReserveResp{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *InventoryHandler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.CancelReservation(ctx, chi.URLParam(r, "id"), actor(r)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.CreateOrder(ctx, req.UserID, req.Items)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *InventoryHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *InventoryHandler) transitionTo(to inventory.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.applyTransition(w, r, to)
	}
}

func (h *InventoryHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to, ok := inventory.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status: " + req.Status})
		return
	}
	h.applyTransition(w, r, to)
}

func (h *InventoryHandler) applyTransition(w http.ResponseWriter, r *http.Request, to inventory.Status) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.TransitionOrder(ctx, chi.URLParam(r, "id"), to, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

func (h *InventoryHandler) listAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := h.Store.AuditEntries(ctx, r.URL.Query().Get("object_type"), r.URL.Query().Get("object_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// requestReclaim publishes a reclaim trigger for the worker. The worker
// also runs on its own interval; this is the on-demand path.
func (h *InventoryHandler) requestReclaim(w http.ResponseWriter, r *http.Request) {
	if h.Reclaim == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reclaim trigger not configured"})
		return
	}
	env := inventory.Envelope{
		EventID:      uuid.NewString(),
		EventType:    inventory.EventReclaimRequested,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     h.Service,
		TraceID:      r.Header.Get("X-Request-Id"),
		Payload: kafkax.MustMarshal(inventory.ReclaimRequestedPayload{
			RequestedAt: time.Now().UTC(),
			RequestedBy: actor(r),
		}),
	}
	h.Reclaim.Publish([]byte(inventory.EventReclaimRequested), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(inventory.EventReclaimRequested)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (h *InventoryHandler) invalidateStock(ctx context.Context, productID string) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyProductStock, productID)).Err()
}
