package database

import (
	"context"
	"encoding/json"
	"fmt"

	"wakeline/pkg/models"
)

// RecordOutcome stores a terminal call outcome. Replaying the same call is a
// no-op.
func (db *DB) RecordOutcome(ctx context.Context, o models.CallOutcome) error {
	query := `
		INSERT INTO call_outcomes
			(call_uuid, user_id, call_type, outcome, attempts, urgency, retry_reason, first_sent_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (call_uuid) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		o.CallUUID, o.UserID, string(o.CallType), o.Outcome, o.Attempts,
		string(o.Urgency), string(o.RetryReason), o.FirstSentAt, o.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// SaveReceipt appends a delivery receipt to the audit log.
func (db *DB) SaveReceipt(ctx context.Context, r models.DeliveryReceipt, acknowledged bool) error {
	var deviceInfo any
	if len(r.DeviceInfo) > 0 {
		b, err := json.Marshal(r.DeviceInfo)
		if err != nil {
			return fmt.Errorf("failed to encode device info: %w", err)
		}
		deviceInfo = string(b)
	}

	query := `
		INSERT INTO voip_delivery_receipts (user_id, call_uuid, status, received_at, device_info, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.conn.ExecContext(ctx, query, r.UserID, r.CallUUID, string(r.Status), r.ReceivedAt, deviceInfo, acknowledged)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}
