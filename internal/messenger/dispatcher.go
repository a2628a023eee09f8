// Package messenger dispatches fired alerts to a user's linked
// external messenger: the Messenger half of the Trigger Sink
// (component J, §4.J step 3).
package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weqory/alertengine/internal/messenger/telegram"
	"github.com/weqory/alertengine/internal/model"
	"github.com/weqory/alertengine/pkg/redis"
)

const (
	userRateLimitWindow  = time.Minute
	userMaxMessages      = 10
	userRateLimitKeyBase = "messenger:rate:user:"
)

// ChatResolver resolves a user's linked messenger chat id. Returns ""
// with no error when the user has no linked account.
type ChatResolver interface {
	TelegramChatID(ctx context.Context, userID int64) (string, error)
}

// Sender is the narrow telegram.Client surface the dispatcher needs.
type Sender interface {
	SendAlertNotification(ctx context.Context, n telegram.AlertNotification, miniAppURL string) (*telegram.Result, error)
}

// Dispatcher implements trigger.Messenger: it resolves the user's
// linked chat, applies a per-user rate limit, and sends a formatted
// notification. Grounded on the teacher's internal/notification.Service
// (rate-limit-then-send shape), trimmed to the engine's one channel and
// without the plan-based monthly limit, which belongs to the CRUD
// service, not the engine.
type Dispatcher struct {
	Sender      Sender
	Users       ChatResolver
	RateLimiter *redis.RateLimiter
	MiniAppURL  string
	Logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, users ChatResolver, redisClient *goredis.Client, logger *slog.Logger) *Dispatcher {
	var limiter *redis.RateLimiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient)
	}
	return &Dispatcher{Sender: sender, Users: users, RateLimiter: limiter, Logger: logger}
}

// Dispatch satisfies trigger.Messenger. It skips silently (returns nil)
// when the user has no linked chat.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, event model.TriggerEvent) error {
	chatID, err := d.Users.TelegramChatID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve chat id: %w", err)
	}
	if chatID == "" {
		return nil
	}

	if d.RateLimiter != nil {
		key := fmt.Sprintf("%s%d", userRateLimitKeyBase, userID)
		allowed, _, _, err := d.RateLimiter.Allow(ctx, key, userMaxMessages, userRateLimitWindow)
		if err != nil && d.Logger != nil {
			d.Logger.Warn("messenger: rate limit check failed", slog.Int64("userId", userID), slog.String("error", err.Error()))
		}
		if err == nil && !allowed {
			if d.Logger != nil {
				d.Logger.Warn("messenger: user rate limited", slog.Int64("userId", userID))
			}
			return nil
		}
	}

	notification := notificationFor(event, chatID)
	_, err = d.Sender.SendAlertNotification(ctx, notification, d.MiniAppURL)
	return err
}

func notificationFor(event model.TriggerEvent, chatID string) telegram.AlertNotification {
	header := event.Header()
	n := telegram.AlertNotification{
		ChatID:      chatID,
		Description: header.Description,
		TriggeredAt: header.TriggeredAt,
	}

	switch {
	case event.Price != nil:
		n.Symbol = event.Price.Symbol
		n.Current = event.Price.CurrentPrice
		n.Target = event.Price.TargetValue
		n.Direction = string(event.Price.Condition)
	case event.Complex != nil:
		n.Symbol = event.Complex.Symbol
		n.Current = event.Complex.CurrentPrice
		n.Target = event.Complex.BaselinePrice
		if event.Complex.PctChange < 0 {
			n.Direction = "below"
		} else {
			n.Direction = "above"
		}
	}

	return n
}
