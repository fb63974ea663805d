package web

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin returns true if r carries no Origin header or comes from
// a page served by this server.  Requests without an Origin do not
// come from a browser page.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ClientPool manages all connected WebSocket clients.
type ClientPool struct {
	clients    map[*WSClient]bool
	broadcast  chan interface{}
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mutex      sync.RWMutex
}

// WSClient is one WebSocket connection.
type WSClient struct {
	conn *websocket.Conn
	send chan interface{}
	pool *ClientPool
	id   string
}

// NewClientPool creates a new client pool.
func NewClientPool() *ClientPool {
	return &ClientPool{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Start runs the pool's broadcast loop until ctx is done.
func (cp *ClientPool) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(cp.done)
			cp.mutex.Lock()
			for client := range cp.clients {
				delete(cp.clients, client)
				close(client.send)
			}
			cp.mutex.Unlock()
			return

		case client := <-cp.register:
			cp.mutex.Lock()
			cp.clients[client] = true
			n := len(cp.clients)
			cp.mutex.Unlock()
			log.Printf("Client %s registered, total clients: %d", client.id, n)

		case client := <-cp.unregister:
			cp.mutex.Lock()
			if _, ok := cp.clients[client]; ok {
				delete(cp.clients, client)
				close(client.send)
			}
			n := len(cp.clients)
			cp.mutex.Unlock()
			log.Printf("Client %s unregistered, total clients: %d", client.id, n)

		case message := <-cp.broadcast:
			cp.mutex.RLock()
			for client := range cp.clients {
				select {
				case client.send <- message:
				default:
					// send buffer full; the client reloads the
					// transcript on its next event
				}
			}
			cp.mutex.RUnlock()
		}
	}
}

// Broadcast queues a message for all connected clients.
func (cp *ClientPool) Broadcast(message interface{}) {
	select {
	case cp.broadcast <- message:
	default:
		log.Printf("broadcast queue full, dropping message")
	}
}

// add registers a client.  It returns false if the pool has stopped.
func (cp *ClientPool) add(c *WSClient) bool {
	select {
	case cp.register <- c:
		return true
	case <-cp.done:
		return false
	}
}

// Len returns the number of connected clients.
func (cp *ClientPool) Len() int {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()
	return len(cp.clients)
}

// readPump drains client messages; the UI talks to the server over
// the JSON API, so anything received is only logged.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.pool.unregister <- c:
		case <-c.pool.done:
		}
		c.conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
		log.Printf("Received from %s: %v", c.id, msg)
	}
}

// writePump writes messages to the WebSocket client.
func (c *WSClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			break
		}
	}
}
