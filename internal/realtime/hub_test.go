package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams []string, allowed map[string]struct{}) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, allowed, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message Message
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func TestHubDropsStaleVersionsPerAlert(t *testing.T) {
	hub := NewHub()
	stream := AlertStream("a1")
	conn := dialHub(t, hub, "user-1", []string{stream}, nil)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(stream) == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastStream(stream, Message{Event: "status_changed", AlertID: "a1", Version: 2})
	hub.BroadcastStream(stream, Message{Event: "created", AlertID: "a1", Version: 1}) // reordered, must be dropped
	hub.BroadcastStream(stream, Message{Event: "claimed", AlertID: "a1", Version: 3})

	first := readMessage(t, conn)
	require.Equal(t, int64(2), first.Version)

	second := readMessage(t, conn)
	require.Equal(t, int64(3), second.Version)
	require.Equal(t, "claimed", second.Event)
}

func TestHubBroadcastToUser(t *testing.T) {
	hub := NewHub()
	stream := AlertStream("a2")
	conn := dialHub(t, hub, "user-1", []string{stream}, nil)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(stream) == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastToUser(stream, "someone-else", Message{Event: "ignored", AlertID: "a2", Version: 1})
	hub.BroadcastToUser(stream, "user-1", Message{Event: "targeted", AlertID: "a2", Version: 2})

	message := readMessage(t, conn)
	require.Equal(t, "targeted", message.Event)
	require.Equal(t, stream, message.Stream)
}

func TestHubIgnoresUnauthorizedStreams(t *testing.T) {
	hub := NewHub()
	allowed := map[string]struct{}{AlertStream("mine"): {}}
	dialHub(t, hub, "user-1", []string{AlertStream("mine"), StreamAdmins}, allowed)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(AlertStream("mine")) == 1
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, hub.SubscriberCount(StreamAdmins))
}

func TestHubBackpressureDropDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub()
	stream := AlertStream("slow")

	// Upgrade a connection without running its writeLoop, so the send buffer
	// fills and the hub has to drop the client mid-broadcast.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := newConnection(hub, socket, "slow-user", nil)
		hub.subscribe(client, []string{stream})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(stream) == 1
	}, time.Second, 10*time.Millisecond)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < defaultBufferSize+8; i++ {
			hub.BroadcastStream(stream, Message{Event: "status_changed"})
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked behind a slow subscriber")
	}

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(stream) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStreamNames(t *testing.T) {
	require.Equal(t, "alert:abc", AlertStream(" ABC "))
	require.Equal(t, "region:r28.6_77.2", RegionStream("r28.6_77.2"))
	require.Equal(t, "user:u-1", UserStream("U-1"))
}
