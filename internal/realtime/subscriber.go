package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Subscriber forwards every frame published on realtimeChannel into the
// local Hub, so a client connected to this replica receives an alert
// fired by any replica. Grounded on the teacher's
// internal/alert.Subscriber pubsub-loop shape.
type Subscriber struct {
	Redis  *goredis.Client
	Hub    *Hub
	Logger *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(redisClient *goredis.Client, hub *Hub, logger *slog.Logger) *Subscriber {
	return &Subscriber{Redis: redisClient, Hub: hub, Logger: logger}
}

// Run subscribes to realtimeChannel and forwards every frame to the
// local Hub until ctx is cancelled or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.Redis.Subscribe(ctx, realtimeChannel)
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
			s.handle(msg.Payload)
		}
	}
}

func (s *Subscriber) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		if s.Logger != nil {
			s.Logger.Error("realtime: subscriber decode failed", slog.String("error", err.Error()))
		}
		return
	}
	s.Hub.PublishToUser(env.UserID, env.Message)
}
