package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	tomb "gopkg.in/tomb.v2"
)

// Hub maintains active WebSocket connections and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// client pairs a connection with its send buffer. A tomb supervises the two
// pump goroutines: whichever fails first kills the other.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	t    tomb.Tomb
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
	}
}

// Serve takes ownership of an upgraded connection and pumps it until either
// side closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	c.t.Go(c.writePump)
	c.t.Go(c.readPump)
	go func() {
		// Closing the connection on Dying unblocks a pump stuck in a read,
		// so Kill always terminates both pumps.
		<-c.t.Dying()
		c.conn.Close()
		c.t.Wait()
		h.unregister(c)
	}()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast sends a message to every connected client. Clients with a full
// buffer are skipped rather than blocking the caller.
func (h *Hub) Broadcast(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client buffer full, skip
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.t.Kill(nil)
		c.t.Wait()
	}
}

func (c *client) writePump() error {
	for {
		select {
		case <-c.t.Dying():
			return nil
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return err
			}
		}
	}
}

func (c *client) readPump() error {
	// Incoming frames are not processed; reading surfaces disconnects.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}
