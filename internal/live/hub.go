// Package live implements a best-effort live-subscriber hub: a
// websocket broadcast of TrackedEvents for any external collaborator
// that wants a real-time feed instead of polling the query API's
// EventBuffer.
//
// A single hub goroutine owns the connection set via register/
// unregister channels (no locking on the map); broadcast is
// non-blocking and drops on a full channel, and a slow client's send
// buffer filling gets it disconnected rather than stalling the hub.
// golang.org/x/time/rate throttles the broadcast loop itself, since
// the proxy's event stream can be bursty enough that the hub goroutine
// needs its own pace limit ahead of the bounded EventBuffer ring
// filling.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/aspyproxy/aspy/internal/events"
)

const (
	broadcastChanCap = 256
	clientSendCap    = 64
)

// Hub manages the set of active WebSocket subscribers and broadcasts
// TrackedEvents to all of them.
type Hub struct {
	connections  map[*conn]bool
	broadcastCh  chan []byte
	registerCh   chan *conn
	unregisterCh chan *conn
	countReq     chan chan int
	limiter      *rate.Limiter
	log          *slog.Logger
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHub constructs a Hub whose broadcast loop is paced at eventsPerSecond
// with a burst of burst, and starts its run loop in a background
// goroutine.
func NewHub(eventsPerSecond float64, burst int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		connections:  make(map[*conn]bool),
		broadcastCh:  make(chan []byte, broadcastChanCap),
		registerCh:   make(chan *conn),
		unregisterCh: make(chan *conn),
		countReq:     make(chan chan int),
		limiter:      rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
		log:          log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.registerCh:
			h.connections[c] = true
			h.log.Debug("live subscriber connected", "total", len(h.connections))

		case c := <-h.unregisterCh:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
				h.log.Debug("live subscriber disconnected", "total", len(h.connections))
			}

		case msg := <-h.broadcastCh:
			if !h.limiter.Allow() {
				continue
			}
			for c := range h.connections {
				select {
				case c.send <- msg:
				default:
					delete(h.connections, c)
					close(c.send)
				}
			}

		case reply := <-h.countReq:
			reply <- len(h.connections)
		}
	}
}

// Broadcast encodes ev as JSON and enqueues it for delivery.
// Non-blocking: a full broadcast channel drops the event rather than
// stalling the caller — live delivery is best-effort.
func (h *Hub) Broadcast(ev events.TrackedEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshaling event for live broadcast", "error", err)
		return
	}
	select {
	case h.broadcastCh <- msg:
	default:
		h.log.Debug("live broadcast channel full, dropping event")
	}
}

// ServeHTTP upgrades the connection and registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, clientSendCap)}
	h.registerCh <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.mu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *conn) readPump(h *Hub) {
	defer func() {
		h.unregisterCh <- c
		c.ws.Close()
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// ConnectedClients reports the current subscriber count via a
// round-trip through the hub goroutine, so the connections map is
// never read from outside it.
func (h *Hub) ConnectedClients() int {
	reply := make(chan int, 1)
	h.countReq <- reply
	return <-reply
}
