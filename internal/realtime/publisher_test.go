package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weqory/alertengine/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublisher_Publish_ReachesSubscribedHubClient(t *testing.T) {
	redisClient := newTestRedis(t)

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{ID: "a", UserID: 9, Send: make(chan []byte, 4)}
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	sub := NewSubscriber(redisClient, hub, nil)
	go sub.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisher(redisClient)
	event := model.TriggerEvent{Price: &model.PricePayload{
		TriggerHeader: model.TriggerHeader{AlertID: 1, UserID: 9},
		Symbol:        "BTCUSDT",
	}}

	err := pub.Publish(context.Background(), 9, event)
	require.NoError(t, err)

	select {
	case msg := <-client.Send:
		assert.Contains(t, string(msg), "BTCUSDT")
	case <-time.After(time.Second):
		t.Fatal("expected message")
	}
}
