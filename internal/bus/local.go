package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HeaderMessageID is added to every message published on a Local bus.
const HeaderMessageID = "bus-message-id"

// ErrBusClosed is returned after the bus has been closed.
var ErrBusClosed = errors.New("bus closed")

// Message is one frame as seen by local subscribers.
type Message struct {
	ID          uuid.UUID
	Destination string
	Payload     []byte
	Headers     map[string]string
	PublishedAt time.Time
}

// Local is an in-process publish/subscribe bus.
type Local struct {
	logger        *slog.Logger
	queueCapacity int
	queueLimit    int

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscriber
	closed bool

	published atomic.Int64
	delivered atomic.Int64
	unrouted  atomic.Int64
}

// LocalStats provides statistics about a Local bus.
type LocalStats struct {
	Subscribers int
	Published   int64
	Delivered   int64
	Unrouted    int64
	Dropped     int64
}

// NewLocal creates a bus whose subscriber queues start at queueCapacity and
// never hold more than queueLimit messages (0 = unbounded).
func NewLocal(queueCapacity, queueLimit int, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		logger:        logger.With("component", "bus"),
		queueCapacity: queueCapacity,
		queueLimit:    queueLimit,
		subs:          make(map[uuid.UUID]*Subscriber),
	}
}

// Publish delivers a copy of the message to every subscriber whose pattern
// matches destination. It never blocks.
func (b *Local) Publish(destination string, payload []byte, headers map[string]string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	msg := Message{
		ID:          uuid.New(),
		Destination: destination,
		Payload:     payload,
		Headers:     make(map[string]string, len(headers)+1),
		PublishedAt: time.Now(),
	}
	for k, v := range headers {
		msg.Headers[k] = v
	}
	msg.Headers[HeaderMessageID] = msg.ID.String()

	b.published.Add(1)

	matched := 0
	for _, sub := range b.subs {
		if !Match(sub.pattern, destination) {
			continue
		}
		matched++
		if sub.queue.Push(msg) {
			b.delivered.Add(1)
		}
	}

	if matched == 0 {
		b.unrouted.Add(1)
		b.logger.Debug("no subscriber for destination", "destination", destination)
	}
	return nil
}

// Subscribe registers a subscriber for pattern. See Match for the syntax.
func (b *Local) Subscribe(pattern string) (*Subscriber, error) {
	if _, err := path.Match(strings.TrimSuffix(pattern, "/**"), ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscriber{
		id:      uuid.New(),
		pattern: pattern,
		queue:   NewQueue[Message](b.queueCapacity, b.queueLimit),
		bus:     b,
	}
	b.subs[sub.id] = sub

	b.logger.Debug("subscriber added", "pattern", pattern, "subscriber", sub.id)
	return sub, nil
}

// Patterns returns the sorted patterns of all current subscribers.
func (b *Local) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub.pattern)
	}
	sort.Strings(out)
	return out
}

// Close closes every subscriber. Later publishes fail with ErrBusClosed.
func (b *Local) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.queue.Close()
		delete(b.subs, id)
	}
}

// Stats returns bus statistics.
func (b *Local) Stats() LocalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := LocalStats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Unrouted:    b.unrouted.Load(),
	}
	for _, sub := range b.subs {
		stats.Dropped += sub.queue.Stats().Dropped
	}
	return stats
}

func (b *Local) remove(id uuid.UUID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscriber receives the messages published to matching destinations.
type Subscriber struct {
	id      uuid.UUID
	pattern string
	queue   *Queue[Message]
	bus     *Local
}

// Pattern returns the subscription pattern.
func (s *Subscriber) Pattern() string {
	return s.pattern
}

// Next blocks until a message arrives. It returns ErrBusClosed once the
// subscriber is closed and drained.
func (s *Subscriber) Next(ctx context.Context) (Message, error) {
	msg, err := s.queue.Pop(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return Message{}, ErrBusClosed
	}
	return msg, err
}

// Pending returns the number of queued messages.
func (s *Subscriber) Pending() int {
	return s.queue.Len()
}

// Close removes the subscriber from the bus.
func (s *Subscriber) Close() {
	s.bus.remove(s.id)
	s.queue.Close()
}

// Match reports whether destination matches pattern. A pattern is either an
// exact destination, a path.Match glob ("/topic/quotes.*"), a prefix ending in
// "/**" that matches everything below it, or "**" for every destination.
func Match(pattern, destination string) bool {
	if pattern == "**" || pattern == destination {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(destination, prefix+"/")
	}
	ok, err := path.Match(pattern, destination)
	return err == nil && ok
}
