package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envsandbox/internal/shared/id"
)

// Event types broadcast to subscribers.
const (
	EventSystem    = "system"
	EventExecution = "execution"
	EventUndefined = "undefined"
	EventReset     = "reset"
	EventReload    = "reload"
	EventPong      = "pong"
	EventError     = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
	readLimit  = 4096
)

// Event is one message on the stream.
type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// inbound is a message sent by a subscriber.
type inbound struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the CORS middleware
	},
}

type client struct {
	id   id.ClientID
	conn *websocket.Conn
	send chan Event
}

// Hub fans sandbox events out to every connected subscriber. A subscriber
// that cannot keep up loses events rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[id.ClientID]*client
	metrics *monitoring.Metrics
	logger  *zap.Logger
	closed  bool
	now     func() time.Time
}

// NewHub creates an empty hub. metrics and logger may be nil.
func NewHub(metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[id.ClientID]*client),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts an event of type typ carrying data.
func (h *Hub) Publish(typ string, data interface{}) {
	ev := Event{Type: typ, Timestamp: h.now().UnixMilli(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- ev:
			h.record("out", typ)
		default:
			h.logger.Debug("Dropping event for slow subscriber",
				zap.String("client", c.id.String()),
				zap.String("type", typ),
			)
		}
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, c := range h.clients {
		close(c.send)
		delete(h.clients, key)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
}

func (h *Hub) record(direction, typ string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, typ)
	}
}

// HandleConnection upgrades the request and streams events until the
// subscriber goes away.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{id: id.NewClientID(), conn: conn, send: make(chan Event, sendBuffer)}
	if !h.register(cl) {
		conn.Close()
		return
	}
	h.logger.Debug("Stream subscriber connected", zap.String("client", cl.id.String()))

	h.reply(cl, Event{
		Type:      EventSystem,
		Timestamp: h.now().UnixMilli(),
		Message:   "connected",
		Data:      map[string]string{"clientId": cl.id.String()},
	})

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Debug("Stream subscriber disconnected", zap.String("client", c.id.String()))
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		h.record("in", msg.Type)

		reply := Event{Type: EventPong, Timestamp: h.now().UnixMilli()}
		if msg.Type != "ping" {
			reply = Event{Type: EventError, Timestamp: reply.Timestamp, Message: "unknown message type"}
		}
		if !h.reply(c, reply) {
			return
		}
	}
}

// reply queues ev for c unless c has been unregistered.
func (h *Hub) reply(c *client, ev Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	select {
	case c.send <- ev:
	default:
	}
	return true
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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
