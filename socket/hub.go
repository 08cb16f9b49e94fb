package socket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/itsneelabh/agentrelay/core"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Hub routes envelopes between WebSocket connections by bound agent id.
// Every connection runs a reader and a writer goroutine; Close waits for all
// of them.
type Hub struct {
	upgrader  websocket.Upgrader
	logger    core.Logger
	queueSize int

	mu       sync.RWMutex
	conns    map[string]*hubConn
	bindings map[string]*hubConn

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger, tagged "framework/hub".
func WithHubLogger(logger core.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithQueueSize sets the per-connection outbound buffer.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// hubConn is one client connection.
type hubConn struct {
	id     string
	ws     *websocket.Conn
	send   chan Frame
	done   chan struct{}
	once   sync.Once
	agents map[string]bool // guarded by Hub.mu
}

func (c *hubConn) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub with no connections.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Agents are not browsers.
				return true
			},
		},
		logger:    &core.NoOpLogger{},
		queueSize: core.DefaultQueueSize,
		conns:     make(map[string]*hubConn),
		bindings:  make(map[string]*hubConn),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if cal, ok := h.logger.(core.ComponentAwareLogger); ok {
		h.logger = cal.WithComponent("framework/hub")
	}
	return h
}

// RegisterRoutes mounts the upgrade endpoint and a health check.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
	e.GET("/healthcheck", h.HandleHealth)
}

// HandleWebSocket upgrades the request and serves the connection.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}

// HandleHealth reports connection and binding counts.
func (h *Hub) HandleHealth(c echo.Context) error {
	conns, bindings := h.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": conns,
		"bindings":    bindings,
	})
}

// ServeHTTP upgrades the request and starts the connection's goroutines.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.closed:
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &hubConn{
		id:     uuid.New().String(),
		ws:     ws,
		send:   make(chan Frame, h.queueSize),
		done:   make(chan struct{}),
		agents: make(map[string]bool),
	}

	h.mu.Lock()
	select {
	case <-h.closed:
		h.mu.Unlock()
		_ = ws.Close()
		return
	default:
	}
	h.conns[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Info("Connection opened", map[string]interface{}{
		"conn_id": c.id,
		"remote":  r.RemoteAddr,
	})

	go h.writePump(c)
	go h.readPump(c)
}

// Stats returns the number of open connections and bound agent ids.
func (h *Hub) Stats() (connections, bindings int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns), len(h.bindings)
}

// Bound reports whether agentID is bound to a connection.
func (h *Hub) Bound(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.bindings[agentID]
	return ok
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.closed)
		h.mu.Unlock()

		h.mu.RLock()
		for _, c := range h.conns {
			c.close()
		}
		h.mu.RUnlock()
	})
	h.wg.Wait()
	return nil
}

func (h *Hub) readPump(c *hubConn) {
	defer func() {
		h.unregister(c)
		h.wg.Done()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Connection read failed", map[string]interface{}{
					"conn_id": c.id,
					"error":   err.Error(),
				})
			}
			return
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		h.wg.Done()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// unregister drops the connection and every binding it holds.
func (h *Hub) unregister(c *hubConn) {
	c.close()

	h.mu.Lock()
	delete(h.conns, c.id)
	for agentID := range c.agents {
		if h.bindings[agentID] == c {
			delete(h.bindings, agentID)
		}
	}
	bound := len(c.agents)
	h.mu.Unlock()

	h.logger.Info("Connection closed", map[string]interface{}{
		"conn_id":  c.id,
		"released": bound,
	})
}

func (h *Hub) handleFrame(c *hubConn, f Frame) {
	switch f.Op {
	case OpBind:
		h.reply(c, h.bind(c, f))
	case OpUnbind:
		h.reply(c, h.unbind(c, f))
	case OpPublish:
		h.reply(c, h.publish(f))
	default:
		h.reply(c, errorFrame(f.Seq, CodeUnknownOp, "unknown op "+f.Op))
	}
}

func (h *Hub) bind(c *hubConn, f Frame) Frame {
	if f.AgentID == "" {
		return errorFrame(f.Seq, CodeBadFrame, "bind requires agent_id")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.bindings[f.AgentID]; ok && owner != c {
		return errorFrame(f.Seq, CodeBound, "agent "+f.AgentID+" is bound by another connection")
	}
	h.bindings[f.AgentID] = c
	c.agents[f.AgentID] = true

	h.logger.Debug("Agent bound", map[string]interface{}{
		"conn_id":  c.id,
		"agent_id": f.AgentID,
	})
	return ackFrame(f.Seq)
}

func (h *Hub) unbind(c *hubConn, f Frame) Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.bindings[f.AgentID] == c {
		delete(h.bindings, f.AgentID)
	}
	delete(c.agents, f.AgentID)
	return ackFrame(f.Seq)
}

func (h *Hub) publish(f Frame) Frame {
	if f.To == "" || len(f.Envelope) == 0 {
		return errorFrame(f.Seq, CodeBadFrame, "publish requires to and envelope")
	}

	h.mu.RLock()
	target, ok := h.bindings[f.To]
	h.mu.RUnlock()
	if !ok {
		return errorFrame(f.Seq, CodeNoRecipient, "no agent bound as "+f.To)
	}

	select {
	case target.send <- Frame{Op: OpDeliver, AgentID: f.To, Envelope: f.Envelope}:
		return ackFrame(f.Seq)
	case <-target.done:
		return errorFrame(f.Seq, CodeNoRecipient, "agent "+f.To+" disconnected")
	default:
		h.logger.Warn("Delivery queue full", map[string]interface{}{"agent_id": f.To})
		return errorFrame(f.Seq, CodeQueueFull, "queue for "+f.To+" is full")
	}
}

// reply queues f for c without blocking the reader; a client that does not
// drain its replies is disconnected.
func (h *Hub) reply(c *hubConn, f Frame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		h.logger.Warn("Reply queue full, closing connection", map[string]interface{}{"conn_id": c.id})
		c.close()
	}
}
