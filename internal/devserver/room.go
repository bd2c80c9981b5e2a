package devserver

import (
	"log/slog"
	"sync"
)

// Room = 1 conversation shared by every client that joined it
type Room struct {
	ID      int64              // conversation id
	Clients map[string]*Client // map[clientID] -> *Client
	mu      sync.RWMutex
}

// NewRoom creates a new chat Room
func NewRoom(id int64) *Room {
	return &Room{
		ID:      id,
		Clients: make(map[string]*Client),
	}
}

// AddUser: adds new client to the room
func (r *Room) AddUser(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Clients[c.ID] == nil {
		slog.Info("client_joined_room", "room_id", r.ID, "client_id", c.ID, "user_id", c.UserID)
		r.Clients[c.ID] = c
	} else {
		slog.Warn("client_already_in_room", "room_id", r.ID, "client_id", c.ID)
	}
}

// RemoveUser: removes client from the room; reports whether the room is now empty
func (r *Room) RemoveUser(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Clients[c.ID] != nil {
		slog.Info("client_left_room", "room_id", r.ID, "client_id", c.ID)
		delete(r.Clients, c.ID)
	}
	return len(r.Clients) == 0
}

// Broadcast: queues message on every client in the room except excludeID
// (empty excludes nobody)
func (r *Room) Broadcast(message []byte, excludeID string) int {
	delivered := 0
	for _, client := range r.GetClients() {
		if client.ID == excludeID {
			continue
		}
		if client.SendMessage(message) {
			delivered++
		}
	}
	return delivered
}

// GetUserCount: returns the number of clients in the room
func (r *Room) GetUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Clients)
}

// GetClients: returns copy of clients list in the room
func (r *Room) GetClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.Clients))
	for _, client := range r.Clients {
		clients = append(clients, client)
	}
	return clients
}
