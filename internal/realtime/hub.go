// Package realtime pushes the live order feed to WebSocket subscribers.
package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks order-feed subscribers and fans broadcast frames out to them.
// A subscriber that fails a write is dropped; the feed is best effort and
// carries no history, late subscribers only see orders placed after they
// connected.
type Hub struct {
	subscribers map[*websocket.Conn]struct{}
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	broadcast   chan []byte
	done        chan struct{}
	stopOnce    sync.Once
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*websocket.Conn]struct{}),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte),
		done:        make(chan struct{}),
	}
}

// Broadcast queues one frame for every subscriber. After Stop it is a no-op.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Subscribe adds the connection to the feed. After Stop the connection is
// closed instead of being registered.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Unsubscribe drops and closes the connection. Safe to call after Stop,
// when Run no longer receives.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Run processes register/unregister/broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.subscribers[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			delete(h.subscribers, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.subscribers {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.subscribers, conn)
				}
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for conn := range h.subscribers {
				conn.Close()
				delete(h.subscribers, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every subscriber connection and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
