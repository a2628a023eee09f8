package messenger

import (
	"context"
	"encoding/json"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Subscriber consumes notificationChannel and hands each message to a
// Dispatcher for the actual Telegram send. Grounded on the teacher's
// internal/notification.Subscriber pubsub-loop shape, trimmed from its
// five-worker pool and processed-id dedup map: this engine's dispatch
// volume doesn't need either, and the Trigger Sink's persist step
// already owns de-dup for the fire itself.
type Subscriber struct {
	Redis      *goredis.Client
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(redisClient *goredis.Client, dispatcher *Dispatcher, logger *slog.Logger) *Subscriber {
	return &Subscriber{Redis: redisClient, Dispatcher: dispatcher, Logger: logger}
}

// Run subscribes to notificationChannel and dispatches every message
// until ctx is cancelled or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.Redis.Subscribe(ctx, notificationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var msg notificationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		if s.Logger != nil {
			s.Logger.Error("messenger: subscriber decode failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := s.Dispatcher.Dispatch(ctx, msg.UserID, msg.Event); err != nil && s.Logger != nil {
		s.Logger.Warn("messenger: subscriber dispatch failed", slog.Int64("userId", msg.UserID), slog.String("error", err.Error()))
	}
}
