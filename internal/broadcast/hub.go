// Package broadcast fans committed sale events out to websocket watchers.
// The hub is a topic-keyed registry: sale id -> set of subscribed clients.
// Delivery is at-most-once; a subscriber whose buffer is full is dropped
// rather than allowed to block the publisher.
package broadcast

import (
	"log"
	"sync"
)

type Hub struct {
	logger *log.Logger

	mu          sync.RWMutex
	subscribers map[int64]map[*Client]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[int64]map[*Client]struct{}),
	}
}

// Register adds a client to its sale's subscriber set and starts its write
// pump.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	set, ok := h.subscribers[client.SaleID]
	if !ok {
		set = make(map[*Client]struct{})
		h.subscribers[client.SaleID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Printf("Client %s subscribed to sale %d", client.ID, client.SaleID)
	if client.Conn != nil {
		go client.writePump()
	}
}

// Unregister removes a client, closing its send channel and connection.
// Safe to call more than once per client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	set, ok := h.subscribers[client.SaleID]
	if ok {
		if _, member := set[client]; !member {
			ok = false
		}
		delete(set, client)
		if len(set) == 0 {
			delete(h.subscribers, client.SaleID)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	client.closeSend()
	if client.Conn != nil {
		client.Conn.Close()
	}
	h.logger.Printf("Client %s unsubscribed from sale %d", client.ID, client.SaleID)
}

// Broadcast delivers a payload to every client watching the sale. Sends are
// non-blocking: a client with a full buffer is disconnected so one slow
// reader cannot stall the rest.
func (h *Hub) Broadcast(saleID int64, payload []byte) {
	h.mu.RLock()
	set := h.subscribers[saleID]
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.TrySend(payload) {
			h.logger.Printf("Client %s too slow, dropping from sale %d", client.ID, client.SaleID)
			h.Unregister(client)
		}
	}
}

// SubscriberCount reports how many clients watch a sale.
func (h *Hub) SubscriberCount(saleID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[saleID])
}
