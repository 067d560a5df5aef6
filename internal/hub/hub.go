// Package hub fans skill change events out to connected agents over
// WebSocket. Delivery is best effort: a failed or slow send is logged
// and dropped, never retried, and never blocks the write path. Agents
// that miss events converge through the sync endpoint.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/monitoring"
	"github.com/lanagent/skillhub/internal/types"
)

// DefaultHeartbeat is the control-ping interval when the config leaves
// it unset. The read deadline is twice the heartbeat.
const DefaultHeartbeat = 30 * time.Second

// MessageHandler processes one inbound message on a connection.
type MessageHandler func(conn *Connection, msg types.Message)

// Connection is one agent's WebSocket session. Writes are serialized
// per connection; gorilla allows a single concurrent writer.
type Connection struct {
	ID        string
	AgentID   string
	AgentName string

	sock    *websocket.Conn
	writeMu sync.Mutex
}

// Stats summarizes the hub for the stats endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Registered  int `json:"registered_agents"`
}

// Hub owns the connection set and the inbound message dispatch table.
type Hub struct {
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	conns    map[string]*Connection
	handlers map[types.MessageType]MessageHandler
}

// New creates a hub with the built-in ping and register handlers.
func New(heartbeat time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	h := &Hub{
		logger:    logger,
		metrics:   metrics,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			// LAN deployment: agents connect from arbitrary hosts.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:    make(map[string]*Connection),
		handlers: make(map[types.MessageType]MessageHandler),
	}
	h.handlers[types.MsgPing] = h.handlePing
	h.handlers[types.MsgRegister] = h.handleRegister
	return h
}

// Handle installs a handler for a message type, replacing any existing
// one. Call before the hub starts accepting connections.
func (h *Hub) Handle(msgType types.MessageType, fn MessageHandler) {
	h.handlers[msgType] = fn
}

// HandleConnection upgrades the request and runs the connection's read
// loop until the peer goes away.
func (h *Hub) HandleConnection(c *gin.Context) {
	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		ID:   "conn_" + ulid.Make().String(),
		sock: sock,
	}
	h.add(conn)
	defer h.remove(conn)

	h.Send(conn, types.NewMessage(types.MsgConnected, types.ConnectedPayload{
		ConnectionID: conn.ID,
		ServerTime:   time.Now().UTC(),
		Message:      "connected to skill registry",
	}))

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	sock.SetReadDeadline(time.Now().Add(2 * h.heartbeat))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(2 * h.heartbeat))
	})

	for {
		var msg types.Message
		if err := sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		sock.SetReadDeadline(time.Now().Add(2 * h.heartbeat))

		handler, ok := h.handlers[msg.Type]
		if !ok {
			h.Send(conn, types.NewMessage(types.MsgError, types.ErrorPayload{
				Message: "unknown message type: " + string(msg.Type),
			}))
			continue
		}
		handler(conn, msg)
	}
}

// Send writes one message to a connection. Failures are counted and
// logged; the caller never sees them.
func (h *Hub) Send(conn *Connection, msg types.Message) {
	conn.writeMu.Lock()
	err := conn.sock.WriteJSON(msg)
	conn.writeMu.Unlock()
	if err != nil {
		if h.metrics != nil {
			h.metrics.SendFailures.Inc()
		}
		h.logger.Warn("websocket send failed",
			zap.String("conn_id", conn.ID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

// Broadcast sends a message to every connection except excludeID,
// concurrently. One slow or dead peer cannot delay the others.
func (h *Hub) Broadcast(msg types.Message, excludeID string) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		if conn.ID != excludeID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, conn := range targets {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			h.Send(c, msg)
		}(conn)
	}
	wg.Wait()

	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}
}

// BroadcastSkillUpdate announces a skill change to all connected agents.
func (h *Hub) BroadcastSkillUpdate(payload types.SkillUpdatePayload) {
	h.Broadcast(types.NewMessage(types.MsgSkillUpdate, payload), "")
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats summarizes open connections and completed register handshakes.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	registered := 0
	for _, conn := range h.conns {
		if conn.AgentID != "" {
			registered++
		}
	}
	return Stats{Connections: len(h.conns), Registered: registered}
}

func (h *Hub) handlePing(conn *Connection, msg types.Message) {
	h.Send(conn, types.NewMessage(types.MsgPong, types.PongPayload{Time: time.Now().UTC()}))
}

func (h *Hub) handleRegister(conn *Connection, msg types.Message) {
	var payload types.RegisterPayload
	if err := msg.DecodePayload(&payload); err != nil || payload.AgentID == "" {
		h.Send(conn, types.NewMessage(types.MsgError, types.ErrorPayload{
			Message: "register requires an agent_id",
		}))
		return
	}

	h.mu.Lock()
	conn.AgentID = payload.AgentID
	conn.AgentName = payload.AgentName
	h.mu.Unlock()

	h.logger.Info("agent registered",
		zap.String("conn_id", conn.ID),
		zap.String("agent_id", payload.AgentID),
		zap.String("agent_name", payload.AgentName))

	h.Send(conn, types.NewMessage(types.MsgRegistered, types.RegisteredPayload{
		ConnectionID: conn.ID,
		AgentID:      payload.AgentID,
		AgentName:    payload.AgentName,
	}))
}

// pingLoop sends control pings on the heartbeat interval so dead peers
// trip the read deadline instead of lingering.
func (h *Hub) pingLoop(conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			err := conn.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			conn.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.logger.Debug("connection opened", zap.String("conn_id", conn.ID))
}

func (h *Hub) remove(conn *Connection) {
	conn.sock.Close()
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.logger.Debug("connection closed", zap.String("conn_id", conn.ID))
}
