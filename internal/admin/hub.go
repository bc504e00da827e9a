// Package admin provides the read-only HTTP/WebSocket surface
// SPEC_FULL.md's domain stack adds on top of the core TCP protocol:
// /health, /metrics (Prometheus), and /admin/ws (a live JSON feed of
// server stats). The broadcast hub's register/unregister/broadcast
// channel shape is adapted from the teacher's pkg/websocket/hub.go,
// trimmed to this surface's much lower fan-out and message rate: no
// nonce dedup (every tick's snapshot is naturally unique), no
// per-client goroutine fan-out (a handful of admin viewers at most).
package admin

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// hub tracks the set of connected admin WebSocket viewers and fans a
// stats snapshot out to each once per tick.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	logger *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{
		clients:    make(map[*websocket.Conn]chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 16),
		logger:     logger,
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn, send := range h.clients {
				close(send)
				conn.Close()
			}
			h.clients = nil
			h.mu.Unlock()
			return

		case conn := <-h.register:
			send := make(chan []byte, 4)
			h.mu.Lock()
			h.clients[conn] = send
			h.mu.Unlock()
			go h.writePump(conn, send)

		case conn := <-h.unregister:
			h.mu.Lock()
			if send, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, send := range h.clients {
				select {
				case send <- msg:
				default:
					// slow viewer; drop it rather than block the tick
					delete(h.clients, conn)
					close(send)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *hub) writePump(conn *websocket.Conn, send <-chan []byte) {
	for msg := range send {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Printf("admin: write error: %v", err)
			h.unregister <- conn
			return
		}
	}
}

// Publish enqueues msg for delivery to every connected admin viewer,
// dropping it if the broadcast channel is backed up.
func (h *hub) Publish(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Printf("admin: broadcast queue full, dropping snapshot")
	}
}
