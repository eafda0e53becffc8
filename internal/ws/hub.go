package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tenantClients is the set of connections of one tenant and its event counter
type tenantClients struct {
	clients map[*Client]struct{}
	seq     uint64
}

// Hub fans liveness events out to the websocket clients of each tenant.
// Only Run mutates the tenant map; mu guards it for GetConnectedClients.
type Hub struct {
	tenants    map[uuid.UUID]*tenantClients
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	now        func() time.Time
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		tenants:    make(map[uuid.UUID]*tenantClients),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.dropAll()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; a no-op once the hub has stopped
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tc, ok := h.tenants[client.tenantID]
	if !ok {
		tc = &tenantClients{clients: make(map[*Client]struct{})}
		h.tenants[client.tenantID] = tc
	}
	tc.clients[client] = struct{}{}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(client)
}

// dropLocked closes client.send exactly once; h.mu must be held
func (h *Hub) dropLocked(client *Client) {
	tc, ok := h.tenants[client.tenantID]
	if !ok {
		return
	}
	if _, ok := tc.clients[client]; !ok {
		return
	}

	delete(tc.clients, client)
	close(client.send)

	if len(tc.clients) == 0 {
		delete(h.tenants, client.tenantID)
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, tc := range h.tenants {
		for client := range tc.clients {
			h.dropLocked(client)
		}
	}
}

func (h *Hub) deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tc, ok := h.tenants[event.TenantID]
	if !ok {
		return
	}

	tc.seq++
	event.Seq = tc.seq

	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal ws event", "event_type", event.Type, "error", err)
		return
	}

	for client := range tc.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("ws client too slow, disconnecting", "tenant_id", event.TenantID)
			h.dropLocked(client)
		}
	}
}

// BroadcastToTenant queues an event for every client of the tenant. Events are
// dropped when the hub is saturated; the HTTP response stays authoritative.
func (h *Hub) BroadcastToTenant(tenantID uuid.UUID, eventType EventType, data interface{}) {
	event := Event{
		TenantID:  tenantID,
		Type:      eventType,
		Data:      data,
		Timestamp: h.now().UTC(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast queue full, event dropped", "tenant_id", tenantID, "event_type", eventType)
	}
}

func (h *Hub) GetConnectedClients(tenantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if tc, ok := h.tenants[tenantID]; ok {
		return len(tc.clients)
	}
	return 0
}
