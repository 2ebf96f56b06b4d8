package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_DeliversMatchEventsToSubscribers(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?match_id=m1")

	require.Eventually(t, func() bool { return hub.GetSubscriberCount("m1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishMatchEvent(context.Background(), domain.MatchEvent{
		Type:      domain.EventGameCreated,
		MatchID:   "m1",
		GameID:    "g1",
		Timestamp: time.Now(),
	}))

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeMatchEvent, msg.Type)
	require.Equal(t, "m1", msg.MatchID)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, domain.EventGameCreated, data["type"])
	require.Equal(t, "g1", data["game_id"])
}

func TestHub_SubscribeMessageAndRankingBroadcast(t *testing.T) {
	hub, srv := startHub(t)
	watcher := dial(t, srv, "")
	other := dial(t, srv, "")

	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, watcher.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, MatchID: "m2"}))
	ack := readMessage(t, watcher)
	require.Equal(t, MessageTypeSubscribed, ack.Type)
	require.Equal(t, "m2", ack.MatchID)

	require.NoError(t, hub.PublishMatchEvent(context.Background(), domain.MatchEvent{
		Type:       domain.EventMatchFinished,
		MatchID:    "m2",
		Settlement: &domain.Settlement{Winner: "alice", Loser: "bob"},
		Timestamp:  time.Now(),
	}))

	require.Equal(t, MessageTypeMatchEvent, readMessage(t, watcher).Type)
	require.Equal(t, MessageTypeRankingsChanged, readMessage(t, watcher).Type)

	msg := readMessage(t, other)
	require.Equal(t, MessageTypeRankingsChanged, msg.Type)
	require.Empty(t, msg.MatchID)
}

func TestClient_SubscribeWithoutMatchID(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeError, msg.Type)
}

func TestClient_ControlMessages(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?match_id=m1")
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("m1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	require.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, MatchID: "m9"}))
	require.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	require.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, MatchID: "m1"}))
	ack := readMessage(t, conn)
	require.Equal(t, MessageTypeUnsubscribed, ack.Type)
	require.Equal(t, "m1", ack.MatchID)
	require.Eventually(t, func() bool { return hub.GetSubscriberCount("m1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SubscriptionLimit(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "")

	for i := 0; i < maxSubscriptions; i++ {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, MatchID: fmt.Sprintf("m%d", i)}))
		require.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)
	}

	// resubscribing to a watched match does not count against the limit
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, MatchID: "m0"}))
	require.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, MatchID: "one-too-many"}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeError, msg.Type)
	require.Equal(t, map[string]interface{}{"error": "too many subscriptions"}, msg.Data)
}
