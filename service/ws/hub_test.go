package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsToConnectedClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	router := mux.NewRouter()
	NewHandler(hub).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, models.PostEvent{Type: models.EventPostLiked, PostID: 7, LikeCount: 3}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.PostEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, models.EventPostLiked, got.Type)
	assert.Equal(t, uint(7), got.PostID)
	assert.Equal(t, 3, got.LikeCount)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	client := &Client{Hub: hub, Send: make(chan []byte, 1)}
	require.True(t, hub.Join(client))
	hub.Leave(client)

	select {
	case _, ok := <-client.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_StoppedHubNeverBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	member := &Client{Hub: hub, Send: make(chan []byte, 1)}
	require.True(t, hub.Join(member))

	cancel()
	<-stopped

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		hub.Leave(member)
		assert.False(t, hub.Join(&Client{Hub: hub, Send: make(chan []byte, 1)}))
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
}

func TestHub_PublishAfterStopFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Fill the buffer so only the stop signal can unblock Publish.
	var err error
	for i := 0; i <= cap(hub.broadcast); i++ {
		if err = hub.Publish(context.Background(), models.PostEvent{Type: models.EventPostCreated}); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrHubStopped)
}
