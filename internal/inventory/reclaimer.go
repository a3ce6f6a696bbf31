package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReclaimResult summarizes one expiry pass.
type ReclaimResult struct {
	Reclaimed int              `json:"reclaimed"`
	Failures  []ReclaimFailure `json:"failures,omitempty"`
}

type ReclaimFailure struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Reason        string `json:"reason"`
}

// ReleaseExpired reclaims every reservation whose expiry passed before now
// and which was not converted to an order. Each reservation is its own
// transaction: a failure (product tombstoned mid-batch, invariant trip) is
// recorded and the pass moves on. Safe to re-run at any cadence and to run
// concurrently with itself: a reservation already reclaimed by a racing
// pass is skipped, not double-released.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) (ReclaimResult, error) {
	expired, err := s.Store.ExpiredReservations(ctx, now)
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("scan expired reservations: %w", err)
	}

	var result ReclaimResult
	for _, r := range expired {
		res, err := s.Store.ReleaseReservation(ctx, r.ID, ActionReservationExpired, "")
		if errors.Is(err, ErrReservationNotFound) {
			// a concurrent pass or a manual cancel got here first
			continue
		}
		if err != nil {
			result.Failures = append(result.Failures, ReclaimFailure{
				ReservationID: r.ID,
				ProductID:     r.ProductID,
				Reason:        err.Error(),
			})
			s.logger().Error("reclaim failed",
				zap.String("reservation_id", r.ID),
				zap.String("product_id", r.ProductID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
			continue
		}

		result.Reclaimed++
		s.publish(s.ReleaseEvents, EventReservationExpired, res.ProductID, ReservationReleasedPayload{
			ReservationID: res.ID,
			ProductID:     res.ProductID,
			Quantity:      res.Quantity,
			Reason:        "EXPIRED",
		})
	}

	if result.Reclaimed > 0 || len(result.Failures) > 0 {
		s.logger().Info("expiry pass done",
			zap.Int("scanned", len(expired)),
			zap.Int("reclaimed", result.Reclaimed),
			zap.Int("failed", len(result.Failures)),
		)
	}
	return result, nil
}
