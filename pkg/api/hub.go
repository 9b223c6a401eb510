package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message pushed to WebSocket clients mirroring grant
// activity, adapted from the teacher's agent event hub (broadcast-only
// here: clients never publish, they only watch).
type Event struct {
	Type         string    `json:"type"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	AgentID      string    `json:"agent_id,omitempty"`
	LockID       string    `json:"lock_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub fans broadcast events out to every connected WebSocket client.
type Hub struct {
	clients    map[*hubClient]bool
	broadcast  chan Event
	register   chan *hubClient
	unregister chan *hubClient
	mu         sync.RWMutex
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			event.Timestamp = time.Now()
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Unlike Redis
// pub/sub, delivery is best-effort with a dropped event on a full client
// buffer; this hub exists purely as a live debugging mirror, not part of
// the grant delivery guarantee in spec §4.2.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("lockd: websocket broadcast channel full, dropping event")
	}
}

// mirrorGrantToHub waits for the next grant on a resource's Notification
// Channel and forwards it to connected WebSocket clients, then exits.
// One goroutine per outstanding queued request; the subscription closes
// itself on the first event or after a bounded wait so a resource that
// never grants again doesn't leak connections.
func (s *Server) mirrorGrantToHub(resourceType, resourceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	events, stop, err := s.engine.Subscribe(ctx, resourceType, resourceID)
	if err != nil {
		cancel()
		return
	}

	go func() {
		defer cancel()
		defer stop()
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(Event{
				Type:         "lock.granted",
				ResourceType: resourceType,
				ResourceID:   resourceID,
				AgentID:      evt.AgentID,
				LockID:       evt.LockID,
			})
		case <-ctx.Done():
		}
	}()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &hubClient{conn: conn, send: make(chan Event, 64)}
	s.hub.register <- client

	go client.writePump()
	client.readPump(s.hub)
}

func (c *hubClient) writePump() {
	defer c.conn.Close()

	for event := range c.send {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump's only job is to notice disconnects; clients never send us
// anything meaningful over this connection.
func (c *hubClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
