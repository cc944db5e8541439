// Package streaming fans import progress out to SSE clients. Each
// import session gets its own broadcaster; clients of finished or
// unknown sessions simply receive nothing.
package streaming

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	clientBuffer    = 10
	sessionBuffer   = 100
	criticalTimeout = 100 * time.Millisecond
	clientTimeout   = 50 * time.Millisecond
)

// Client represents a connected SSE client
type Client struct {
	Events chan Event
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		Events: make(chan Event, clientBuffer),
	}
}

// SessionBroadcaster broadcasts events to every client watching a
// single import session.
type SessionBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewSessionBroadcaster creates a new session broadcaster
func NewSessionBroadcaster(ctx context.Context) *SessionBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan Event, sessionBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a client to the broadcaster
func (b *SessionBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	log.Printf("INFO: SSE client registered, total clients: %d", len(b.clients))
}

// Unregister removes a client from the broadcaster
func (b *SessionBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		// Stop() already closes client channels, do not close twice
		if !b.stopped {
			close(client.Events)
		}
		log.Printf("INFO: SSE client unregistered, total clients: %d", len(b.clients))
	}
}

// ClientCount returns the number of connected clients
func (b *SessionBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for delivery. Critical events block up to
// criticalTimeout; everything else is dropped when the queue is full.
func (b *SessionBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	if event.Type.Critical() {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(criticalTimeout):
			log.Printf("ERROR: Failed to queue critical event %s, clients may hang", event.Type)
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		log.Printf("WARN: Event queue full, dropping event type: %s", event.Type)
	}
}

// Stop stops the broadcaster and cleans up resources
func (b *SessionBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
		close(b.events)
	})
}

// Start starts the delivery loop. The broadcaster stops itself after a
// terminal event so finished sessions do not leak goroutines.
func (b *SessionBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.deliver(event)
				if event.Type.Critical() {
					time.Sleep(criticalTimeout)
					return
				}
			}
		}
	}()
}

func (b *SessionBroadcaster) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if event.Type.Critical() {
			select {
			case client.Events <- event:
			case <-time.After(clientTimeout):
				log.Printf("ERROR: Failed to deliver critical event %s to client", event.Type)
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			// slow client, skip the event
			log.Printf("WARN: Client buffer full, skipping event type: %s", event.Type)
		}
	}
}

// Hub manages broadcasters for concurrent import sessions.
type Hub struct {
	mu           sync.RWMutex
	broadcasters map[string]*SessionBroadcaster
}

// NewHub creates a new stream hub
func NewHub() *Hub {
	return &Hub{
		broadcasters: make(map[string]*SessionBroadcaster),
	}
}

// Register attaches a client to a session, creating the broadcaster on
// first use.
func (h *Hub) Register(ctx context.Context, sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := NewClient()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		broadcaster = NewSessionBroadcaster(ctx)
		h.broadcasters[sessionID] = broadcaster
		broadcaster.Start()
		log.Printf("INFO: Created broadcaster for import session %s", sessionID)
	}

	broadcaster.Register(client)
	return client
}

// Unregister removes a client from a session
func (h *Hub) Unregister(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		return
	}

	broadcaster.Unregister(client)

	if broadcaster.ClientCount() == 0 {
		broadcaster.Stop()
		delete(h.broadcasters, sessionID)
		log.Printf("INFO: Broadcaster for import session %s cleaned up", sessionID)
	}
}

// Broadcast sends an event to all clients of a session
func (h *Hub) Broadcast(sessionID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		// nobody is watching this session
		return
	}

	broadcaster.Broadcast(event)
}

// IsRunning checks if a session broadcaster exists
func (h *Hub) IsRunning(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.broadcasters[sessionID]
	return exists
}
