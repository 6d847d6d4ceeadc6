package devserver

import (
	"sync"
)

// Hub tracks connected websocket clients by user id and fans event payloads
// out to them. A user may hold several connections (multiple tabs/devices).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()
	close(c.Send)
}

// Deliver sends a payload to every connection of every listed user.
func (h *Hub) Deliver(userIDs []string, payload []byte) {
	h.mu.RLock()
	for _, id := range userIDs {
		for c := range h.clients[id] {
			c.SendMessage(payload)
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
