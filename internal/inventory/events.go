package inventory

import (
	"encoding/json"
	"time"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationExpired   = "ReservationExpired"
	EventReservationCancelled = "ReservationCancelled"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventReclaimRequested     = "ReclaimRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`   // uuid
	EventType     string          `json:"event_type"` // one of the consts above
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"` // RFC3339
	Producer      string          `json:"producer"`    // e.g. "reserve-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads per event ----

type ReservationCreatedPayload struct {
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ReservationReleasedPayload struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"` // EXPIRED | CANCELLED
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
	Actor     string `json:"actor,omitempty"`
}

type ReclaimRequestedPayload struct {
	RequestedAt time.Time `json:"requested_at"`
	RequestedBy string    `json:"requested_by,omitempty"`
}
