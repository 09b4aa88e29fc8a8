package sse

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/kbukum/fanout/logger"
)

// Event types.
const (
	EventConnected = "connected"
	EventOutcome   = "outcome"
	EventFinalized = "finalized"
)

// ErrHubStopped is returned when registering on a stopped hub.
var ErrHubStopped = errors.New("sse: hub stopped")

// clientBuffer is how many events a slow client may lag before events drop.
const clientBuffer = 64

// Event is one Server-Sent Event.
type Event struct {
	Type string
	Data []byte
}

// Client is a connected SSE client.
type Client struct {
	id     string
	events chan Event
	once   sync.Once
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Events returns the channel of events for the client. It is closed when
// the client is unregistered or the hub stops.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) send(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.events) })
}

// Hub manages SSE client connections and event broadcasting. Broadcasts
// never block: a client whose buffer is full misses the event.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool
	dropped int64
}

// NewHub creates a new SSE hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{log: log.WithComponent("sse"), clients: make(map[string]*Client)}
}

// Register adds a client with the given unique id.
func (h *Hub) Register(id string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrHubStopped
	}
	if old, ok := h.clients[id]; ok {
		old.close()
	}
	c := &Client{id: id, events: make(chan Event, clientBuffer)}
	h.clients[id] = c
	h.log.Debug("Client registered", logger.Fields("client_id", id, "total_clients", len(h.clients)))
	return c, nil
}

// Unregister removes a client and closes its event channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	c.close()
}

// Broadcast sends ev to every client whose ID matches the glob pattern and
// returns how many received it.
func (h *Hub) Broadcast(pattern string, ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for id, c := range h.clients {
		matched, err := filepath.Match(pattern, id)
		if err != nil {
			h.log.Error("Pattern match error", logger.Fields("pattern", pattern, logger.FieldError, err.Error()))
			return sent
		}
		if !matched {
			continue
		}
		if c.send(ev) {
			sent++
		} else {
			h.dropped++
			h.log.Warn("Client buffer full, dropping event", logger.Fields("client_id", id, "event", ev.Type))
		}
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Stop closes every client and rejects new registrations. Safe to call
// multiple times.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
	h.log.Debug("All clients closed during shutdown")
}
