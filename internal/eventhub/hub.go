// Package eventhub captures log lines and status changes on one ordered
// sequence and fans them out to live subscribers, with a bounded ring
// buffer backing pull-based backfill for clients that fall behind.
package eventhub

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity is the ring buffer size: roughly an hour of chatty
	// engine output, enough for the panel's scrollback.
	DefaultCapacity = 2000

	// DefaultSubscriberBuffer is the outbound queue per subscriber. A full
	// queue unsubscribes the client (push path); it recovers via Fetch.
	DefaultSubscriberBuffer = 64
)

// Hub owns the event sequence. All mutation happens under one mutex so id
// assignment, ring append and fanout observe a single order.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	ring     []Event
	start    int // index of the oldest retained event
	count    int
	nextID   uint64
	subs     map[uint64]*Subscription
	nextSub  uint64
	shutdown bool

	published atomic.Uint64
	evicted   atomic.Uint64
	dropped   atomic.Uint64 // subscriber disconnects due to full queues
}

// Option customises hub construction.
type Option func(*Hub)

// WithCapacity overrides the ring buffer size.
func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.ring = make([]Event, n)
		}
	}
}

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New constructs a hub with the default ring capacity.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger: log.Default(),
		ring:   make([]Event, DefaultCapacity),
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish assigns the next id, appends to the ring (evicting the oldest
// entry when full) and offers the event to every live subscriber with a
// non-blocking send. It returns the assigned id.
func (h *Hub) Publish(ev Event) uint64 {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return 0
	}

	h.nextID++
	ev.ID = h.nextID

	if h.count == len(h.ring) {
		h.start = (h.start + 1) % len(h.ring)
		h.count--
		h.evicted.Add(1)
	}
	h.ring[(h.start+h.count)%len(h.ring)] = ev
	h.count++

	var overrun []*Subscription
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			overrun = append(overrun, sub)
		}
	}
	for _, sub := range overrun {
		delete(h.subs, sub.id)
		sub.closeLocked()
		h.dropped.Add(1)
		h.logger.Printf("[EventHub] subscriber %d too slow, disconnected at id %d (recover via fetch)", sub.id, ev.ID)
	}
	h.mu.Unlock()

	h.published.Add(1)
	return ev.ID
}

// Log publishes a free-text log line.
func (h *Hub) Log(level, source, message string) uint64 {
	return h.Publish(Event{Kind: KindLog, Level: level, Source: source, Message: message})
}

// Status publishes a status snapshot. Marshal failures are impossible for
// the status types used here; they are reported on the sequence itself as
// an error line to keep the signature simple.
func (h *Hub) Status(snapshot any) uint64 {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return h.Log(LevelError, "eventhub", "marshal status snapshot: "+err.Error())
	}
	return h.Publish(Event{Kind: KindStatus, Data: data})
}

// Fetch returns up to limit events with id > sinceID in id order. The
// second return value reports a gap: the oldest retained id is greater
// than sinceID+1, meaning events were evicted before the caller saw them.
func (h *Hub) Fetch(sinceID uint64, limit int) ([]Event, bool) {
	if limit <= 0 {
		limit = DefaultCapacity
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var gap bool
	if h.count > 0 {
		oldest := h.ring[h.start].ID
		gap = oldest > sinceID+1
	} else {
		// Empty ring with ids already assigned means everything was evicted.
		gap = h.nextID > sinceID
	}

	events := make([]Event, 0, min(limit, h.count))
	for i := 0; i < h.count && len(events) < limit; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > sinceID {
			events = append(events, ev)
		}
	}
	return events, gap
}

// LatestID returns the highest id assigned so far (0 before any publish).
func (h *Hub) LatestID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextID
}

// Subscribe registers a live subscriber. Ordering is preserved per
// subscriber; no ordering is guaranteed across subscribers.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	sub := &Subscription{
		id:  h.nextSub,
		ch:  make(chan Event, buffer),
		hub: h,
	}
	if h.shutdown {
		sub.closeLocked()
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Shutdown closes every subscription and rejects further publishes.
func (h *Hub) Shutdown() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.shutdown = true
	for id, sub := range h.subs {
		sub.closeLocked()
		delete(h.subs, id)
	}
}

// Metrics is a point-in-time counter snapshot for the exporter.
type Metrics struct {
	Published          uint64
	Evicted            uint64
	DroppedSubscribers uint64
	Subscribers        int
}

// MetricsSnapshot returns current counter values.
func (h *Hub) MetricsSnapshot() Metrics {
	h.mu.Lock()
	subs := len(h.subs)
	h.mu.Unlock()
	return Metrics{
		Published:          h.published.Load(),
		Evicted:            h.evicted.Load(),
		DroppedSubscribers: h.dropped.Load(),
		Subscribers:        subs,
	}
}

// Subscription is one live consumer of the event sequence.
type Subscription struct {
	id     uint64
	ch     chan Event
	hub    *Hub
	closed atomic.Bool
}

// C exposes the event channel. It is closed when the subscription ends,
// including the forced disconnect of a slow consumer.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close removes the subscription and closes the channel.
func (s *Subscription) Close() {
	if s.hub == nil {
		s.closeLocked()
		return
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
	}
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
