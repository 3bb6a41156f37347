package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/llm"
	"github.com/xhad/doctalk/pkg/metrics"
)

// Answerer streams the answer to one question.
type Answerer interface {
	Answer(ctx context.Context, req llm.Request) <-chan llm.AnswerEvent
}

type HubConfig struct {
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	SendBuffer        int
	TopK              int
	GenerationTimeout time.Duration
}

// Hub owns the live WebSocket connections. It dispatches chat messages,
// broadcasts document updates and closes connections that stop answering
// pings.
type Hub struct {
	config   HubConfig
	docs     types.DocumentSource
	ranker   types.Ranker
	answerer Answerer
	metrics  *metrics.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn

	ctx    context.Context
	cancel context.CancelFunc
}

var _ types.DocumentBroadcaster = (*Hub)(nil)

func NewHub(config HubConfig, docs types.DocumentSource, ranker types.Ranker, answerer Answerer, log *zap.Logger, m *metrics.Metrics) *Hub {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.WriteWait <= 0 {
		config.WriteWait = 10 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 64 << 10
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:   config,
		docs:     docs,
		ranker:   ranker,
		answerer: answerer,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
		conns:  make(map[string]*conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := h.newConn(ws)
	if !h.register(c) {
		ws.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// register queues the greeting before the connection becomes visible to
// broadcasts, so it is always the first message sent.
func (h *Hub) register(c *conn) bool {
	c.enqueue(encode(connectionMessage{
		Type:     TypeConnection,
		Message:  msgConnected,
		ClientID: c.id,
	}))

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		c.close()
		return false
	}
	h.conns[c.id] = c
	h.mu.Unlock()

	h.metrics.ActiveConnections.Inc()
	h.log.Info("New WebSocket connection established", zap.String("client_id", c.id))
	return true
}

// remove closes c and drops it from the live set. It is safe to call more
// than once.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.ActiveConnections.Dec()
		h.log.Info("Client disconnected", zap.String("client_id", c.id))
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) connections() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) dispatch(c *conn, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Error("WebSocket message handling error", zap.String("client_id", c.id), zap.Error(err))
		c.enqueue(encode(newError(msgProcessingError)))
		return
	}
	h.log.Debug("Received WebSocket message", zap.String("client_id", c.id), zap.String("type", msg.Type))

	switch msg.Type {
	case TypeChat:
		text, err := msg.chatText()
		if err != nil {
			h.log.Error("WebSocket message handling error", zap.String("client_id", c.id), zap.Error(err))
			c.enqueue(encode(newError(msgProcessingError)))
			return
		}
		h.startChat(c, text)
	default:
		c.enqueue(encode(newError(msgUnknownType)))
	}
}

func (h *Hub) startChat(c *conn, text string) {
	if !c.busy.CompareAndSwap(false, true) {
		h.metrics.ChatRequests.WithLabelValues("busy").Inc()
		c.enqueue(encode(newError(msgBusy)))
		return
	}

	go func() {
		defer c.busy.Store(false)
		h.chat(c, text)
	}()
}

// chat answers one question against the document current at the time it
// was asked, even if another document is uploaded meanwhile.
func (h *Hub) chat(c *conn, text string) {
	started := time.Now()
	status := "cancelled"
	defer func() {
		h.metrics.ChatRequests.WithLabelValues(status).Inc()
		h.metrics.GenerationDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}()

	snap := h.docs.Snapshot()
	ranked, err := h.ranker.RankDocument(c.ctx, text, snap, h.config.TopK)
	h.metrics.RankDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNoDocumentLoaded):
			status = "no_document"
			c.enqueueWait(encode(newError(msgNoDocument)))
		case c.ctx.Err() != nil:
		default:
			status = "failed"
			h.log.Error("Chat processing error", zap.String("client_id", c.id), zap.Error(err))
			c.enqueueWait(encode(newError(msgGenerationError)))
		}
		return
	}

	events := h.answerer.Answer(c.ctx, llm.Request{
		Query:     text,
		Metadata:  snap.Metadata,
		Fragments: ranked,
		Timeout:   h.config.GenerationTimeout,
	})
	gone := false
	for ev := range events {
		// keep draining until the coordinator sees the cancellation
		if gone || !c.enqueueWait(encode(eventMessage(ev))) {
			gone = true
			continue
		}
		switch ev.Kind {
		case llm.EventComplete:
			status = "complete"
		case llm.EventFailed:
			status = "failed"
			if errors.Is(ev.Err, types.ErrTimeout) {
				status = "timeout"
			}
		}
	}
}

// BroadcastDocumentUpdate notifies every open connection of a new document.
// Connections whose queue is full are closed.
func (h *Hub) BroadcastDocumentUpdate(meta models.DocumentMetadata) {
	msg := encode(documentUpdateMessage{Type: TypeDocumentUpdate, Metadata: meta})

	for _, c := range h.connections() {
		if !c.enqueue(msg) {
			h.metrics.DroppedMessages.Inc()
			h.log.Warn("client queue full, closing connection", zap.String("client_id", c.id))
			h.remove(c)
		}
	}
}

// Run pings every connection once per heartbeat interval until ctx is done.
// A connection that has not answered the previous ping is closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	for _, c := range h.connections() {
		if !c.alive.Swap(false) {
			h.log.Info("closing unresponsive connection", zap.String("client_id", c.id))
			h.remove(c)
			continue
		}
		deadline := time.Now().Add(h.config.WriteWait)
		if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.log.Debug("ping failed", zap.String("client_id", c.id), zap.Error(err))
			h.remove(c)
		}
	}
}

// Close closes every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	for _, c := range h.connections() {
		h.remove(c)
	}
}
