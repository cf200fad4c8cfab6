package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bitfinder/internal/metrics"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxInbound   = 512
	wsQueueSize    = 64
)

// wsMessage is the frame every client receives: {"type": ..., "data": ...}.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

// wsEnvelope is a queued frame. A nil target means every client.
type wsEnvelope struct {
	target  *wsClient
	payload []byte
}

// wsHub owns the client set; only run touches it.
type wsHub struct {
	clients    map[*wsClient]struct{}
	live       atomic.Int32
	outbox     chan wsEnvelope
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	stopped    chan struct{}
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]struct{}),
		outbox:     make(chan wsEnvelope, wsQueueSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			h.disconnectAll()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.live.Add(1)
			metrics.WSConnections.Inc()
			h.logger.Debug("ws client connected", slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Debug("ws client disconnected", slog.Int("clients", len(h.clients)))
			}
		case env := <-h.outbox:
			if env.target != nil {
				if _, ok := h.clients[env.target]; ok {
					h.deliver(env.target, env.payload)
				}
				continue
			}
			for c := range h.clients {
				h.deliver(c, env.payload)
			}
		}
	}
}

// deliver never blocks; a client whose queue is full is disconnected.
func (h *wsHub) deliver(c *wsClient, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Debug("ws client too slow, dropping")
		h.remove(c)
	}
}

func (h *wsHub) remove(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.live.Add(-1)
	metrics.WSConnections.Dec()
}

func (h *wsHub) disconnectAll() {
	bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(2*time.Second))
		}
		h.remove(c)
	}
}

// Close disconnects every client and waits for run to return. Safe to call
// more than once.
func (h *wsHub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	<-h.stopped
}

func (h *wsHub) clientCount() int {
	return int(h.live.Load())
}

// Broadcast queues a frame for every client. Frames are discarded when nobody
// is connected or the queue is full.
func (h *wsHub) Broadcast(msgType string, data interface{}) {
	if h.clientCount() == 0 {
		return
	}
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.outbox <- wsEnvelope{payload: payload}:
	default:
		h.logger.Debug("ws outbox full, frame discarded", slog.String("type", msgType))
	}
}

// sendTo queues a frame for one client, blocking until the hub accepts it
// or shuts down.
func (h *wsHub) sendTo(c *wsClient, msgType string, data interface{}) {
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.outbox <- wsEnvelope{target: c, payload: payload}:
	case <-h.done:
	}
}

func (h *wsHub) encode(msgType string, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws encode failed", slog.String("type", msgType), slog.String("error", err.Error()))
		return nil, false
	}
	return payload, true
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) write(kind int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(kind, payload)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writePump() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process pongs and notice
// when the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxInbound)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
	_ = extend("")
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
