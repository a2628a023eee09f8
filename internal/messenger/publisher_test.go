package messenger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weqory/alertengine/internal/model"
)

func TestPublisher_Dispatch_PublishesToChannel(t *testing.T) {
	redisClient := newTestRedis(t)
	pub := NewPublisher(redisClient, nil)

	sub := redisClient.Subscribe(context.Background(), notificationChannel)
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	event := model.TriggerEvent{Price: &model.PricePayload{
		TriggerHeader: model.TriggerHeader{AlertID: 1, UserID: 9},
		Symbol:        "BTCUSDT",
	}}
	require.NoError(t, pub.Dispatch(context.Background(), 9, event))

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "BTCUSDT")
}

func TestPublisher_GetRetryQueueLength_EmptyByDefault(t *testing.T) {
	pub := NewPublisher(newTestRedis(t), nil)
	n, err := pub.GetRetryQueueLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublisher_ProcessRetryQueue_DrainsQueuedItem(t *testing.T) {
	redisClient := newTestRedis(t)
	pub := NewPublisher(redisClient, nil)

	event := model.TriggerEvent{Price: &model.PricePayload{Symbol: "ETHUSDT"}}
	payload, err := json.Marshal(notificationMessage{UserID: 5, Event: event})
	require.NoError(t, err)
	require.NoError(t, redisClient.RPush(context.Background(), retryQueueKey, payload).Err())

	require.NoError(t, pub.ProcessRetryQueue(context.Background()))

	n, err := pub.GetRetryQueueLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
