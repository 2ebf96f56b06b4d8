package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// client frames are small control messages
	maxMessageSize = 1024

	// maxSubscriptions caps how many matches one connection may watch
	maxSubscriptions = 32

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one spectator connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// owned by the read goroutine once it starts
	watching map[string]struct{}
}

// ClientMessage is a control frame sent by a spectator
type ClientMessage struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id,omitempty"`
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger.With("client_id", id),
		watching: make(map[string]struct{}),
	}
}

// ServeWs upgrades a request to a WebSocket. A match_id query parameter
// subscribes the new client to that match right away.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	if matchID := r.URL.Query().Get("match_id"); matchID != "" {
		client.watch(matchID)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection", "remote", r.RemoteAddr)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.replyError("invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.MatchID == "" {
			c.replyError("match_id required for subscribe")
			return
		}
		if !c.watch(msg.MatchID) {
			c.replyError("too many subscriptions")
			return
		}
		c.reply(Message{Type: MessageTypeSubscribed, MatchID: msg.MatchID})

	case MessageTypeUnsubscribe:
		if _, ok := c.watching[msg.MatchID]; !ok {
			c.replyError("not subscribed to match")
			return
		}
		delete(c.watching, msg.MatchID)
		c.hub.Unsubscribe(c, msg.MatchID)
		c.reply(Message{Type: MessageTypeUnsubscribed, MatchID: msg.MatchID})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.replyError("unknown message type " + msg.Type)
	}
}

// watch subscribes to a match unless the client is at its limit. Watching a
// match twice is a no-op.
func (c *Client) watch(matchID string) bool {
	if _, ok := c.watching[matchID]; ok {
		return true
	}
	if len(c.watching) >= maxSubscriptions {
		return false
	}
	c.watching[matchID] = struct{}{}
	c.hub.Subscribe(c, matchID)
	return true
}

// writePump owns all writes to the connection. Each message goes out as its
// own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a direct answer to this client, dropped if its buffer is full
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply", "type", msg.Type)
	}
}

func (c *Client) replyError(text string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": text}})
}
