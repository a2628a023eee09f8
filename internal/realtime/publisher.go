package realtime

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weqory/alertengine/internal/model"
)

// realtimeChannel carries every fired alert's frame across replicas so
// a user connected to any websocket-gateway instance receives it,
// regardless of which replica's Trigger Sink fired the alert (§11).
const realtimeChannel = "realtime:alertTriggered"

// envelope pairs the recipient with the already-encoded frame, so a
// Subscriber never has to re-derive the message shape from the event.
type envelope struct {
	UserID  int64  `json:"userId"`
	Message []byte `json:"message"`
}

// Publisher implements trigger.Realtime by publishing to a Redis
// channel instead of touching a local Hub directly, so a fired alert
// reaches the user's connection no matter which replica holds it.
// Grounded on the teacher's internal/alert.PricePublisher channel-
// publish shape; unlike the messenger Publisher, a missed publish isn't
// queued for retry, matching the Realtime step's best-effort contract
// (§4.J step 2: "failures are logged, not retried").
type Publisher struct {
	Redis *goredis.Client
}

// NewPublisher creates a Publisher.
func NewPublisher(redisClient *goredis.Client) *Publisher {
	return &Publisher{Redis: redisClient}
}

// Publish satisfies trigger.Realtime.
func (p *Publisher) Publish(ctx context.Context, userID int64, event model.TriggerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: MessageTypeAlertTriggered, Payload: payload})
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{UserID: userID, Message: msg})
	if err != nil {
		return err
	}
	return p.Redis.Publish(ctx, realtimeChannel, env).Err()
}
