// Package trigger implements the Trigger Sink (component J): the
// lease-local fan-out that persists a fired alert's state change, pushes
// a realtime notification, and dispatches a messenger message.
package trigger

import (
	"context"
	"log/slog"

	"github.com/weqory/alertengine/internal/model"
)

// Store is the persistence step (§4.J step 1). DeletePriceAlert and
// MarkComplexTriggered are the de-dup barrier: a price alert is deleted
// under a unique-key guard so a duplicate concurrent fire harmlessly
// fails; a complex alert is idempotently marked triggered.
// InsertTriggerRecord writes the durable alert_history row (§12's
// "Trigger history") once the barrier commits, so a fired alert's
// payload survives even if the realtime/messenger steps both fail.
type Store interface {
	DeletePriceAlert(ctx context.Context, alertID int64) (bool, error)
	MarkComplexTriggered(ctx context.Context, alertID int64, header model.TriggerHeader) (bool, error)
	InsertTriggerRecord(ctx context.Context, rec model.TriggerRecord) error
}

// Realtime pushes alertTriggered to the user's live connection (§4.J
// step 2). Best-effort: failures are logged, not retried.
type Realtime interface {
	Publish(ctx context.Context, userID int64, event model.TriggerEvent) error
}

// Messenger dispatches a short formatted message to the user's linked
// external messenger (§4.J step 3). Implementations skip silently when
// the user has no linked account.
type Messenger interface {
	Dispatch(ctx context.Context, userID int64, event model.TriggerEvent) error
}

// Sink is the Trigger Sink.
type Sink struct {
	Store     Store
	Realtime  Realtime
	Messenger Messenger
	Logger    *slog.Logger
}

// New creates a Trigger Sink. Realtime and Messenger may be nil to skip
// those best-effort steps (useful in tests or degraded deployments).
func New(store Store, realtime Realtime, messenger Messenger, logger *slog.Logger) *Sink {
	return &Sink{Store: store, Realtime: realtime, Messenger: messenger, Logger: logger}
}

// Fire carries out the three trigger steps in order. Step 1 gates 2 and
// 3: if persistence fails or the de-dup barrier rejects the fire (it was
// already committed by a concurrent caller), no realtime or messenger
// side effect occurs.
func (s *Sink) Fire(ctx context.Context, event model.TriggerEvent) {
	header := event.Header()

	committed, err := s.persist(ctx, event, header)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("trigger: persist failed", slog.Int64("alertId", header.AlertID), slog.String("error", err.Error()))
		}
		return
	}
	if !committed {
		// De-dup barrier rejected a duplicate concurrent fire; this is
		// the expected at-least-once overlap, not an error.
		return
	}

	if err := s.Store.InsertTriggerRecord(ctx, event.Record()); err != nil && s.Logger != nil {
		s.Logger.Error("trigger: history insert failed", slog.Int64("alertId", header.AlertID), slog.String("error", err.Error()))
	}

	if s.Realtime != nil {
		if err := s.Realtime.Publish(ctx, header.UserID, event); err != nil && s.Logger != nil {
			s.Logger.Warn("trigger: realtime publish failed", slog.Int64("alertId", header.AlertID), slog.String("error", err.Error()))
		}
	}

	if s.Messenger != nil {
		if err := s.Messenger.Dispatch(ctx, header.UserID, event); err != nil && s.Logger != nil {
			s.Logger.Warn("trigger: messenger dispatch failed", slog.Int64("alertId", header.AlertID), slog.String("error", err.Error()))
		}
	}

	if s.Logger != nil {
		kind := "price"
		if event.Complex != nil {
			kind = "complex"
		}
		s.Logger.Info("trigger.fired", slog.String("kind", kind), slog.Int64("alertId", header.AlertID), slog.Int64("userId", header.UserID))
	}
}

func (s *Sink) persist(ctx context.Context, event model.TriggerEvent, header model.TriggerHeader) (bool, error) {
	switch {
	case event.Price != nil:
		return s.Store.DeletePriceAlert(ctx, header.AlertID)
	case event.Complex != nil:
		return s.Store.MarkComplexTriggered(ctx, header.AlertID, header)
	default:
		return false, nil
	}
}
