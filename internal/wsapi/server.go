// Package wsapi is the thin presentation adapter that exposes the fleet's
// catalog and health event stream to LLM-facing websocket clients. It
// translates monitor.Transition values and identity/fleet snapshots into
// the normative wire schema (spec.md §6, §9). Grounded on the teacher's
// internal/gateway/ws_control_plane.go: gorilla/websocket upgrade, a
// per-connection send channel pumped by a dedicated writeLoop, and a
// frame-type dispatch in readLoop — generalized from a bidirectional
// chat-and-control protocol to a read-mostly broadcast-plus-ping one.
package wsapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/toolmesh/internal/fleet"
	"github.com/haasonsaas/toolmesh/internal/identity"
	"github.com/haasonsaas/toolmesh/internal/monitor"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

const (
	maxPayloadBytes  = 1 << 16
	writeWait        = 10 * time.Second
	pongWait         = 45 * time.Second
	pingTickInterval = 15 * time.Second
)

// Server serves the broadcast websocket endpoint.
type Server struct {
	Registry *identity.Registry
	Container *fleet.Container
	Bus       *monitor.Bus
	Metrics   *monitor.Metrics
	Logger    *slog.Logger

	upgrader         websocket.Upgrader
	subscriberBuffer int
}

// NewServer builds a Server. subscriberBuffer is the per-connection event
// channel capacity handed to Bus.Subscribe.
func NewServer(registry *identity.Registry, container *fleet.Container, bus *monitor.Bus, metrics *monitor.Metrics, subscriberBuffer int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 32
	}
	return &Server{
		Registry:         registry,
		Container:        container,
		Bus:              bus,
		Metrics:          metrics,
		Logger:           logger.With("component", "wsapi"),
		subscriberBuffer: subscriberBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection's read/write pumps
// until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub, unsubscribe := s.Bus.Subscribe(s.subscriberBuffer)
	if s.Metrics != nil {
		s.Metrics.SetSubscriberCount(s.Bus.SubscriberCount())
	}

	c := &connection{
		server: s,
		conn:   wsConn,
		sub:    sub,
		send:   make(chan []byte, s.subscriberBuffer),
		done:   make(chan struct{}),
	}
	defer func() {
		unsubscribe()
		if s.Metrics != nil {
			s.Metrics.SetSubscriberCount(s.Bus.SubscriberCount())
		}
	}()

	c.run()
}

type connection struct {
	server *Server
	conn   *websocket.Conn
	sub    monitor.Subscriber
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func (c *connection) run() {
	defer c.conn.Close()

	c.sendWelcome()

	go c.forwardTransitions()
	go c.writeLoop()
	c.readLoop()

	c.closed.Store(true)
	close(c.done)
}

// forwardTransitions relays Bus transitions onto the connection's send
// channel for as long as the subscriber channel stays open.
func (c *connection) forwardTransitions() {
	for transition := range c.sub {
		c.enqueueEvent(transition.Project())
	}
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wire.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueueEvent(wire.Event{Type: wire.EventError, Timestamp: time.Now().Unix()})
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *connection) handleClientMessage(msg wire.ClientMessage) {
	switch msg.Type {
	case "ping":
		c.enqueueEvent(wire.Event{Type: wire.EventPong, Timestamp: time.Now().Unix()})
	case "get_tools":
		c.enqueueEvent(wire.Event{Type: wire.EventToolsList, Tools: c.snapshotAll(), Timestamp: time.Now().Unix()})
	case "subscribe":
		// The bus already fans every transition out to every subscriber;
		// a named-events subscribe request is acknowledged but does not
		// currently narrow delivery (spec.md names no per-client filter).
		c.enqueueEvent(wire.Event{Type: wire.EventToolsList, Tools: c.snapshotAll(), Timestamp: time.Now().Unix()})
	default:
		c.enqueueEvent(wire.Event{Type: wire.EventError, Timestamp: time.Now().Unix()})
	}
}

func (c *connection) sendWelcome() {
	c.enqueueEvent(wire.Event{Type: wire.EventWelcome, Tools: c.snapshotAll(), Timestamp: time.Now().Unix()})
}

func (c *connection) snapshotAll() []wire.ServiceSnapshot {
	services := c.server.Container.List()
	snapshots := make([]wire.ServiceSnapshot, 0, len(services))
	for _, svc := range services {
		snapshots = append(snapshots, svc.Snapshot())
	}
	return snapshots
}

func (c *connection) enqueueEvent(event wire.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		// a slow client drops the event rather than stalling the bus
		// (spec.md §6's best-effort broadcast delivery).
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
