package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// conn is one WebSocket client. Only writePump writes data frames; pings are
// sent by the hub with WriteControl.
type conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	ctx    context.Context // cancelled when the connection closes
	cancel context.CancelFunc
	once   sync.Once

	alive atomic.Bool // answered the last ping
	busy  atomic.Bool // a chat is streaming
}

func (h *Hub) newConn(ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(h.ctx)
	c := &conn{
		id:     uuid.NewString(),
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, h.config.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.alive.Store(true)
	return c
}

// enqueue queues a message without blocking. It reports false if the
// connection is closed or its queue is full.
func (c *conn) enqueue(msg []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// enqueueWait queues a message, waiting for room until the connection closes.
func (c *conn) enqueueWait(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *conn) close() {
	c.once.Do(c.cancel)
}

func (c *conn) readPump() {
	defer c.hub.remove(c)

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		c.hub.dispatch(c, data)
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.log.Debug("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
				c.hub.remove(c)
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.hub.config.WriteWait))
			return
		}
	}
}
