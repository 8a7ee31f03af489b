package http

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/application"
)

// Client represents a connected SSE client.
type Client struct {
	recipient string
	send      chan []byte
}

// Hub manages all active SSE client connections, keyed by recipient address.
// Single-instance model: all broadcast is in-process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string][]*Client
	gauge   prometheus.Gauge
}

// NewHub creates a new SSE Hub. gauge tracks connected clients and may be nil.
func NewHub(gauge prometheus.Gauge) *Hub {
	return &Hub{
		clients: make(map[string][]*Client),
		gauge:   gauge,
	}
}

func recipientKey(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}

// Register adds a new SSE client.
func (h *Hub) Register(recipient string, send chan []byte) *Client {
	c := &Client{recipient: recipientKey(recipient), send: send}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.recipient] = append(h.clients[c.recipient], c)
	if h.gauge != nil {
		h.gauge.Inc()
	}

	log.Debug().Str("recipient", c.recipient).Msg("SSE client connected")
	return c
}

// Unregister removes an SSE client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[c.recipient]
	updated := make([]*Client, 0, len(clients))
	for _, existing := range clients {
		if existing != c {
			updated = append(updated, existing)
		}
	}
	if len(updated) == len(clients) {
		return
	}

	if len(updated) == 0 {
		delete(h.clients, c.recipient)
	} else {
		h.clients[c.recipient] = updated
	}
	if h.gauge != nil {
		h.gauge.Dec()
	}

	log.Debug().Str("recipient", c.recipient).Msg("SSE client disconnected")
}

// Broadcast sends a notification to every stream open for recipient.
// This satisfies the application.Broadcaster interface.
func (h *Hub) Broadcast(recipient string, n application.NotificationOutput) {
	key := recipientKey(recipient)

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[key]
	if len(clients) == 0 {
		return
	}

	msg := buildSSEMessage(n)
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// Client is slow/disconnected, skip
			log.Warn().Str("recipient", key).Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the total number of connected SSE clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// buildSSEMessage formats a notification as an SSE data frame.
func buildSSEMessage(n any) []byte {
	b, _ := json.Marshal(n)
	return []byte("event: notification\ndata: " + string(b) + "\n\n")
}
