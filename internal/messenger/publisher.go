package messenger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weqory/alertengine/internal/model"
)

const (
	notificationChannel = "alert:notifications"
	retryQueueKey       = "messenger:retry_queue"
)

// notificationMessage is the wire shape published to notificationChannel
// and, on failure, queued under retryQueueKey.
type notificationMessage struct {
	UserID int64              `json:"userId"`
	Event  model.TriggerEvent `json:"event"`
}

// Publisher implements trigger.Messenger by publishing a fired alert to
// a Redis channel instead of sending it inline, decoupling the Trigger
// Sink from the Telegram API's latency. Grounded on the teacher's
// internal/alert.Publisher: Publish pushes to notificationChannel, and
// a failed publish is queued with RPush rather than dropped, giving the
// messenger step an at-least-once delivery path (§12).
type Publisher struct {
	Redis  *goredis.Client
	Logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(redisClient *goredis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{Redis: redisClient, Logger: logger}
}

// Dispatch satisfies trigger.Messenger.
func (p *Publisher) Dispatch(ctx context.Context, userID int64, event model.TriggerEvent) error {
	return p.publish(ctx, notificationMessage{UserID: userID, Event: event})
}

func (p *Publisher) publish(ctx context.Context, msg notificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	publishErr := p.Redis.Publish(ctx, notificationChannel, payload).Err()
	if publishErr == nil {
		return nil
	}

	if rerr := p.Redis.RPush(ctx, retryQueueKey, payload).Err(); rerr != nil {
		return publishErr
	}
	if p.Logger != nil {
		p.Logger.Warn("messenger: publish failed, queued for retry", slog.Int64("userId", msg.UserID), slog.String("error", publishErr.Error()))
	}
	return nil
}

// ProcessRetryQueue drains the retry queue once, re-publishing each
// queued notification. Grounded on the teacher's
// alert.Publisher.ProcessRetryQueue LPop loop: an empty queue
// (redis.Nil) ends the pass cleanly, and a notification that fails
// again is pushed back onto the tail.
func (p *Publisher) ProcessRetryQueue(ctx context.Context) error {
	for {
		raw, err := p.Redis.LPop(ctx, retryQueueKey).Result()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var msg notificationMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			if p.Logger != nil {
				p.Logger.Error("messenger: retry item unmarshal failed", slog.String("error", err.Error()))
			}
			continue
		}

		if err := p.publish(ctx, msg); err != nil {
			if rerr := p.Redis.RPush(ctx, retryQueueKey, raw).Err(); rerr != nil && p.Logger != nil {
				p.Logger.Error("messenger: re-queue failed", slog.String("error", rerr.Error()))
			}
			time.Sleep(time.Second)
			continue
		}
	}
}

// GetRetryQueueLength reports how many notifications are pending retry.
func (p *Publisher) GetRetryQueueLength(ctx context.Context) (int64, error) {
	return p.Redis.LLen(ctx, retryQueueKey).Result()
}
