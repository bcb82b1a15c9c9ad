package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
)

// upgrader is shared across connections; CheckOrigin accepts every origin.
// The CORS allow-list configured for the REST routes (see corsMiddleware) is
// not applied to WebSocket upgrades.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub fans scheduler events out to every connected observability
// WebSocket client. Grounded on pkg/api/websocket.go's WebSocketHub, trimmed
// to a single broadcast channel - this scheduler has no per-client
// subscription model to maintain.
type eventHub struct {
	clients    map[*eventClient]bool
	broadcast  chan Event
	register   chan *eventClient
	unregister chan *eventClient
	log        *logging.StructuredLogger
	mu         sync.RWMutex
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

func newEventHub(log *logging.StructuredLogger) *eventHub {
	return &eventHub{
		clients:    make(map[*eventClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		log:        log,
	}
}

// run drives the hub until stop is closed.
func (h *eventHub) run(stop <-chan struct{}) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.fanOut(ev)

		case <-heartbeat.C:
			h.fanOut(Event{Type: EventHeartbeat, Timestamp: time.Now()})

		case <-stop:
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) fanOut(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			if h.log != nil {
				h.log.Component("api").Warn("websocket client send buffer full, dropping event")
			}
		}
	}
}

// Publish broadcasts ev to every connected client without blocking the
// caller - the scheduler's hot paths (worker completion, master tick) must
// never stall on a slow observer.
func (h *eventHub) Publish(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case h.broadcast <- ev:
	default:
	}
}

// serveWS upgrades the connection and pumps events to it until it
// disconnects.
func (h *eventHub) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Error("websocket upgrade failed", err)
		}
		return
	}

	client := &eventClient{id: uuid.New().String(), conn: conn, send: make(chan Event, 64)}
	h.register <- client

	go h.writePump(client)
	h.readPump(client)
}

func (h *eventHub) writePump(c *eventClient) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readPump only watches for client-initiated close; this hub is publish-only.
func (h *eventHub) readPump(c *eventClient) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
