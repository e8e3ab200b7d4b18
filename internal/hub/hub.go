// Package hub tracks connected clients and fans out events to them.
//
// Each client owns a buffered outbox drained by its transport writer. The
// broadcaster never blocks on a slow client: when an outbox is full the
// message is dropped for that client only.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gameweaver/internal/observe"
)

// DefaultOutboxSize is the outbox capacity used when none is configured.
const DefaultOutboxSize = 64

// Message is one outbound event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Broadcaster sends a message to every connected client.
type Broadcaster interface {
	Broadcast(msg Message)
}

// Client is a registered connection.
type Client struct {
	ID     string
	outbox chan Message
}

// Outbox returns the channel the transport writer drains. It is closed when
// the client is unregistered.
func (c *Client) Outbox() <-chan Message { return c.outbox }

// Registry is the set of connected clients.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	outboxSize int
	metrics    *observe.Metrics
}

// Compile-time assertion that Registry satisfies Broadcaster.
var _ Broadcaster = (*Registry)(nil)

// Option configures a [Registry].
type Option func(*Registry)

// WithOutboxSize sets the per-client buffer capacity.
func WithOutboxSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.outboxSize = n
		}
	}
}

// WithMetrics records client counts and dropped messages on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New returns an empty [Registry].
func New(opts ...Option) *Registry {
	r := &Registry{
		clients:    make(map[string]*Client),
		outboxSize: DefaultOutboxSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a new client with a fresh identifier.
func (r *Registry) Register() *Client {
	c := &Client{ID: uuid.NewString(), outbox: make(chan Message, r.outboxSize)}

	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectedClients.Add(context.Background(), 1)
	}
	slog.Debug("client registered", "client_id", c.ID)
	return c
}

// Unregister removes the client and closes its outbox. Unknown ids are
// ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		close(c.outbox)
	}
	r.mu.Unlock()

	if ok {
		if r.metrics != nil {
			r.metrics.ConnectedClients.Add(context.Background(), -1)
		}
		slog.Debug("client unregistered", "client_id", id)
	}
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast implements [Broadcaster].
func (r *Registry) Broadcast(msg Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		r.deliverLocked(c, msg)
	}
}

// Send delivers msg to a single client. It reports false when the client is
// unknown or its outbox is full.
func (r *Registry) Send(id string, msg Message) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return false
	}
	return r.deliverLocked(c, msg)
}

// deliverLocked must be called with at least the read lock held so the
// outbox cannot be closed concurrently.
func (r *Registry) deliverLocked(c *Client, msg Message) bool {
	select {
	case c.outbox <- msg:
		return true
	default:
		slog.Warn("client outbox full, dropping message", "client_id", c.ID, "event", msg.Event)
		if r.metrics != nil {
			r.metrics.DroppedMessages.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("event", msg.Event)))
		}
		return false
	}
}
