package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
)

// AuditTrail is append-only. No update or delete exists on purpose.
type AuditTrail struct{}

func (AuditTrail) Append(ctx context.Context, q querier, e inventory.AuditEntry) (inventory.AuditEntry, error) {
	oldValue, err := marshalNullable(e.OldValue)
	if err != nil {
		return inventory.AuditEntry{}, fmt.Errorf("marshal old_value: %w", err)
	}
	newValue, err := marshalNullable(e.NewValue)
	if err != nil {
		return inventory.AuditEntry{}, fmt.Errorf("marshal new_value: %w", err)
	}

	e.ID = uuid.NewString()
	err = q.QueryRow(ctx, `
		INSERT INTO audit_log (id, actor, action, object_type, object_id, old_value, new_value)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.Actor, e.Action, e.ObjectType, e.ObjectID, oldValue, newValue,
	).Scan(&e.CreatedAt)
	if err != nil {
		return inventory.AuditEntry{}, err
	}
	return e, nil
}

func (AuditTrail) List(ctx context.Context, q querier, objectType, objectID string) ([]inventory.AuditEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, COALESCE(actor, ''), action, object_type, object_id, old_value, new_value, created_at
		FROM audit_log
		WHERE ($1 = '' OR object_type = $1)
		  AND ($2 = '' OR object_id = $2)
		ORDER BY created_at`, objectType, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.AuditEntry
	for rows.Next() {
		var e inventory.AuditEntry
		var oldValue, newValue []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ObjectType, &e.ObjectID, &oldValue, &newValue, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldValue) > 0 {
			if err := json.Unmarshal(oldValue, &e.OldValue); err != nil {
				return nil, fmt.Errorf("decode old_value: %w", err)
			}
		}
		if len(newValue) > 0 {
			if err := json.Unmarshal(newValue, &e.NewValue); err != nil {
				return nil, fmt.Errorf("decode new_value: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil // NULL column
	}
	return json.Marshal(v)
}
