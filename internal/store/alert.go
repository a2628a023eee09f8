// Package store is the pgx-backed persistence layer: it satisfies the
// Store interfaces the engine's components declare (complexcache,
// fastloop, klines, trigger) against the Alert schema from spec §6.
package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/pkg/errors"
)

// AlertStore is the Alert table access the engine needs: reading the
// active sets the evaluators scan, and the two trigger-time mutations
// that form the Trigger Sink's de-dup barrier.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertColumns = `
	id, user_id, name, description, alert_type, exchange, market, symbols,
	target_value, condition, initial_price, conditions, notification_options,
	is_active, triggered, triggered_at, created_at, updated_at
`

func scanAlert(row pgx.Row) (model.Alert, error) {
	var a model.Alert
	var description *string
	var symbolsRaw, conditionsRaw, notifyRaw []byte
	var condition *string

	err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &description, &a.AlertType, &a.Exchange, &a.Market, &symbolsRaw,
		&a.TargetValue, &condition, &a.InitialPrice, &conditionsRaw, &notifyRaw,
		&a.IsActive, &a.Triggered, &a.TriggeredAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Alert{}, err
	}

	if description != nil {
		a.Description = *description
	}
	if condition != nil {
		c := model.Condition(*condition)
		a.Condition = &c
	}
	if len(symbolsRaw) > 0 {
		if err := json.Unmarshal(symbolsRaw, &a.Symbols); err != nil {
			return model.Alert{}, err
		}
	}
	if len(conditionsRaw) > 0 {
		if err := json.Unmarshal(conditionsRaw, &a.Conditions); err != nil {
			return model.Alert{}, err
		}
	}
	if len(notifyRaw) > 0 {
		if err := json.Unmarshal(notifyRaw, &a.NotificationOptions); err != nil {
			return model.Alert{}, err
		}
	}
	return a, nil
}

// ListActivePriceAlerts satisfies fastloop.Store and klines.Store: every
// active, not-yet-triggered price alert.
func (s *AlertStore) ListActivePriceAlerts(ctx context.Context) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE alert_type = 'price' AND is_active = true AND triggered = false`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListActiveComplexAlerts satisfies complexcache.Store: every active
// complex alert, regardless of prior triggers (§3: complex alerts keep
// evaluating after firing, gated by cooldown instead of removal).
func (s *AlertStore) ListActiveComplexAlerts(ctx context.Context) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE alert_type = 'complex' AND is_active = true`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetByID retrieves a single alert by id.
func (s *AlertStore) GetByID(ctx context.Context, id int64) (model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Alert{}, errors.ErrAlertNotFound
		}
		return model.Alert{}, err
	}
	return a, nil
}

// DeletePriceAlert satisfies trigger.Store's de-dup barrier for price
// alerts: it is removed (soft-deactivated) on fire, so a concurrent
// duplicate fire finds nothing left to deactivate and reports false.
func (s *AlertStore) DeletePriceAlert(ctx context.Context, alertID int64) (bool, error) {
	query := `UPDATE alerts SET is_active = false, triggered = true, triggered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND alert_type = 'price' AND is_active = true AND triggered = false`
	result, err := s.pool.Exec(ctx, query, alertID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkComplexTriggered satisfies trigger.Store's de-dup barrier for
// complex alerts: idempotently stamps the trigger timestamp without
// deactivating, since complex alerts keep evaluating under cooldown.
func (s *AlertStore) MarkComplexTriggered(ctx context.Context, alertID int64, header model.TriggerHeader) (bool, error) {
	query := `UPDATE alerts SET triggered = true, triggered_at = $2, updated_at = NOW()
		WHERE id = $1 AND alert_type = 'complex' AND is_active = true`
	result, err := s.pool.Exec(ctx, query, alertID, header.TriggeredAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// EnsureSchema creates the alerts table if absent. Ownership of the
// table normally belongs to the CRUD service's migrations; this exists
// so the engine can also run standalone against a fresh database in
// local development.
func (s *AlertStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			alert_type TEXT NOT NULL,
			exchange TEXT NOT NULL,
			market TEXT NOT NULL,
			symbols JSONB NOT NULL DEFAULT '[]',
			target_value DOUBLE PRECISION,
			condition TEXT,
			initial_price DOUBLE PRECISION,
			conditions JSONB,
			notification_options JSONB,
			is_active BOOLEAN NOT NULL DEFAULT true,
			triggered BOOLEAN NOT NULL DEFAULT false,
			triggered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
