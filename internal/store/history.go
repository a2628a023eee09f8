package store

import (
	"context"
	"time"

	"github.com/weqory/alertengine/internal/model"
)

// InsertTriggerRecord writes one durable alert_history row (§12's
// "Trigger history"), independent of whether the realtime/messenger
// steps that follow it in the Trigger Sink succeed. Grounded on the
// teacher's internal/alert/engine.go createHistoryRecord insert and
// internal/repository/history_repository.go's column shape, trimmed to
// this schema's coin-less alerts table: symbol is stored directly
// instead of joining a coins table the engine doesn't carry.
func (s *AlertStore) InsertTriggerRecord(ctx context.Context, rec model.TriggerRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_history
			(alert_id, user_id, alert_type, symbol, condition, target_value, triggered_price, triggered_at, notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
	`, rec.AlertID, rec.UserID, rec.AlertType, rec.Symbol, rec.Condition, rec.TargetValue, rec.TriggeredPrice, rec.TriggeredAt)
	return err
}

// MarkNotified stamps a history row as notified, mirroring the
// teacher's markHistoryNotified update. The messenger path does not
// call it.
func (s *AlertStore) MarkNotified(ctx context.Context, alertID int64, triggeredAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_history SET notified = true
		WHERE alert_id = $1 AND triggered_at = $2
	`, alertID, triggeredAt)
	return err
}

// EnsureHistorySchema creates alert_history if absent.
func (s *AlertStore) EnsureHistorySchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS alert_history (
			id BIGSERIAL PRIMARY KEY,
			alert_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			alert_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			condition TEXT,
			target_value DOUBLE PRECISION,
			triggered_price DOUBLE PRECISION,
			triggered_at TIMESTAMPTZ NOT NULL,
			notified BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
