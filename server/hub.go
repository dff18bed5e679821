package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"VKMBot/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var (
	ErrNotConnected = errors.New("user has no open connection")
	ErrSlowClient   = errors.New("client send buffer is full")
)

// MessageType tags a WebSocket message.
type MessageType string

const (
	// server -> client
	MsgTypeCandidates MessageType = "candidates"
	MsgTypeStatus     MessageType = "status"
	MsgTypeProgress   MessageType = "progress"
	MsgTypeArtifact   MessageType = "artifact"
	MsgTypeError      MessageType = "error"
	MsgTypePong       MessageType = "pong"

	// client -> server
	MsgTypeSearch MessageType = "search"
	MsgTypeSelect MessageType = "select"
	MsgTypePing   MessageType = "ping"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one user's WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID int64
}

// Hub tracks one connection per user. A new connection replaces the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]*Client)}
}

// NewClient wraps conn for userID. The client is not reachable until registered.
func (h *Hub) NewClient(conn *websocket.Conn, userID int64) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), UserID: userID}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[client.UserID]; ok && old != client {
		close(old.send)
		logger.Info("[Hub] replacing connection", logger.Int64("userId", client.UserID))
	}
	h.clients[client.UserID] = client
	logger.Info("[Hub] client registered", logger.Int64("userId", client.UserID))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[client.UserID]; ok && cur == client {
		delete(h.clients, client.UserID)
		close(client.send)
		logger.Info("[Hub] client unregistered", logger.Int64("userId", client.UserID))
	}
}

// Connected reports whether userID has an open connection.
func (h *Hub) Connected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToUser queues msg for userID's connection.
func (h *Hub) SendToUser(userID int64, msgType MessageType, payload interface{}) error {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[userID]
	if !ok {
		return ErrNotConnected
	}
	select {
	case client.send <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

func encodeMessage(msgType MessageType, payload interface{}) ([]byte, error) {
	msg := WSMessage{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// trySend queues a frame for this client without blocking.
func (c *Client) trySend(msgType MessageType, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c.UserID] != c {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ReadPump reads client commands until the connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
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
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("[Hub] websocket read error",
					logger.Int64("userId", c.UserID),
					logger.ErrorField(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.trySend(MsgTypeError, map[string]string{"error": "malformed message"})
			continue
		}
		if msg.Type == MsgTypePing {
			c.trySend(MsgTypePong, nil)
			continue
		}
		handler(ctx, c, &msg)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
