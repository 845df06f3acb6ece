package web

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one connected browser.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks the connected browsers and fans messages out to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	broadcast  chan []byte
	unregister chan *Client
	quit       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a hub. Run must be started before messages are delivered.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 64),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run delivers messages until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client

			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			// A browser that cannot keep up with selection changes is dropped
			for _, client := range slow {
				h.remove(client)
			}

		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			return
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// Broadcast queues a message for every client. It is dropped when the queue is full.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// send queues a message for one client. It reports false when the client is
// gone or its queue is full.
func (h *Hub) send(client *Client, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// add registers a client so that a following send reaches it. It reports
// false once the hub is closed.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.quit:
		return false
	default:
	}

	h.clients[client] = struct{}{}

	return true
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// writePump copies queued messages to the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump reads client messages until the connection fails.
func (c *Client) readPump(onMessage func([]byte)) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}

		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if onMessage != nil {
			onMessage(message)
		}
	}
}
