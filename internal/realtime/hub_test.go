package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishToUser_DeliversOnlyToThatUsersClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := &Client{ID: "a", UserID: 1, Send: make(chan []byte, 4)}
	b := &Client{ID: "b", UserID: 2, Send: make(chan []byte, 4)}
	hub.Register(a)
	hub.Register(b)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	hub.PublishToUser(1, []byte(`{"type":"alertTriggered"}`))

	select {
	case msg := <-a.Send:
		assert.Contains(t, string(msg), "alertTriggered")
	case <-time.After(time.Second):
		t.Fatal("expected message for user 1")
	}

	select {
	case msg := <-b.Send:
		t.Fatalf("unexpected message for user 2: %s", msg)
	default:
	}
}

func TestHub_Unregister_RemovesFromUserIndex(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := &Client{ID: "a", UserID: 1, Send: make(chan []byte, 4)}
	hub.Register(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	hub.Unregister(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)

	assert.NotPanics(t, func() { hub.PublishToUser(1, []byte("x")) })
}
