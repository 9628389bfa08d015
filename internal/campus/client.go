package campus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 64 * 1024
)

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	flushed    chan struct{}
	ID         string
	RemoteAddr string

	// Owned by the hub goroutine.
	state   sessionState
	userKey string
}

func NewClient(hub *Hub, conn *websocket.Conn, id, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuffer),
		flushed:    make(chan struct{}),
		ID:         id,
		RemoteAddr: remoteAddr,
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMsgSize)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			slog.Debug("read error", "error", err, "conn", c.ID)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid message", "error", err, "conn", c.ID)
			continue
		}

		if !c.hub.submit(c, &msg) {
			return
		}
	}
}

// WritePump drains the send queue until the hub closes it, so frames queued before
// shutdown still reach the peer.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.flushed)
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("write error", "error", err, "conn", c.ID)
				c.conn.Close(websocket.StatusInternalError, "")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Send queues msg without blocking. It reports false when the queue is full.
func (c *Client) Send(msg *Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal message", "error", err)
		return false
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		slog.Warn("client send buffer full, dropping message", "conn", c.ID, "user", c.userKey)
		return false
	}
}
