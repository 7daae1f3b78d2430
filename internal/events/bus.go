// Package events is the in-process topic bus that feeds internal consumers
// and WebSocket clients.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDepth     = 256
	defaultRetention = 120 * time.Second
	minRetention     = 60 * time.Second
	defaultRingCap   = 2048
)

// Bus is a topic broker. Each topic numbers its messages, keeps a replay
// ring and fans out to subscriber queues without ever blocking the
// publisher.
type Bus struct {
	mu       sync.RWMutex
	topics   map[string]*topic
	prefixes map[*Subscriber][]string
	subs     map[*Subscriber]struct{}

	depth     atomic.Int64
	retention atomic.Int64 // nanoseconds
	ringCap   int
	now       func() time.Time
	dropped   atomic.Uint64
	log       *zap.Logger
}

type topic struct {
	name string
	mu   sync.Mutex
	seq  uint64
	ring []Message
	subs map[*Subscriber]struct{}
}

// Option customizes a Bus.
type Option func(*Bus)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

// WithRingCap caps retained messages per topic.
func WithRingCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.ringCap = n
		}
	}
}

// NewBus creates an event bus.
func NewBus(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		topics:   make(map[string]*topic),
		prefixes: make(map[*Subscriber][]string),
		subs:     make(map[*Subscriber]struct{}),
		ringCap:  defaultRingCap,
		now:      time.Now,
		log:      log.With(zap.String("component", "bus")),
	}
	b.depth.Store(defaultDepth)
	b.retention.Store(int64(defaultRetention))
	for _, o := range opts {
		o(b)
	}
	return b
}

// Configure applies queue depth for new subscribers and replay retention.
func (b *Bus) Configure(depth int, retention time.Duration) {
	if depth > 0 {
		b.depth.Store(int64(depth))
	}
	if retention < minRetention {
		retention = minRetention
	}
	b.retention.Store(int64(retention))
}

func (b *Bus) topic(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}
	t = &topic{name: name, subs: make(map[*Subscriber]struct{})}
	b.topics[name] = t
	return t
}

// Publish stamps payload with the next sequence of topicName, retains it for
// replay and fans it out. Delivery happens under the topic lock, so every
// subscriber sees a topic in sequence order.
func (b *Bus) Publish(topicName, msgType string, payload any) Message {
	t := b.topic(topicName)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	msg := Message{Type: msgType, Topic: topicName, Seq: t.seq, TS: b.now(), Payload: payload}
	t.ring = append(t.ring, msg)
	b.trim(t, msg.TS)

	for s := range t.subs {
		b.deliver(s, msg)
	}

	b.mu.RLock()
	for s, prefixes := range b.prefixes {
		for _, p := range prefixes {
			if strings.HasPrefix(topicName, p) {
				b.deliver(s, msg)
				break
			}
		}
	}
	b.mu.RUnlock()

	return msg
}

func (b *Bus) deliver(s *Subscriber, msg Message) {
	if s.push(msg) {
		b.dropped.Add(1)
	}
}

// trim drops ring entries past retention, then enforces the count cap.
func (b *Bus) trim(t *topic, now time.Time) {
	cutoff := now.Add(-time.Duration(b.retention.Load()))
	i := 0
	for i < len(t.ring) && t.ring[i].TS.Before(cutoff) {
		i++
	}
	if over := len(t.ring) - i - b.ringCap; over > 0 {
		i += over
	}
	if i > 0 {
		t.ring = append(t.ring[:0:0], t.ring[i:]...)
	}
}

// Seq returns the last sequence issued on topicName.
func (b *Bus) Seq(topicName string) uint64 {
	t := b.topic(topicName)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Dropped returns how many messages were evicted from full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// SubscriberCount returns the number of open subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// NewSubscriber opens a queue with the configured depth. It receives
// nothing until it subscribes to topics or prefixes.
func (b *Bus) NewSubscriber() *Subscriber {
	s := &Subscriber{
		bus:    b,
		ch:     make(chan Message, int(b.depth.Load())),
		topics: make(map[string]struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscriber is one consumer's queue across many topics. When the queue is
// full the oldest message is dropped.
type Subscriber struct {
	bus *Bus
	ch  chan Message

	mu      sync.RWMutex
	closed  bool
	topics  map[string]struct{}
	dropped atomic.Uint64
}

// C is the receive side of the queue. It is closed by Close.
func (s *Subscriber) C() <-chan Message { return s.ch }

// Dropped returns how many messages this subscriber lost to overflow.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// push enqueues msg, evicting the oldest entries when full. It reports
// whether anything was evicted.
func (s *Subscriber) push(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	evicted := false
	for {
		select {
		case s.ch <- msg:
			return evicted
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

// Subscribe attaches the queue to topicName for future messages.
func (s *Subscriber) Subscribe(topicName string) {
	s.Resume(topicName, ^uint64(0))
}

// Resume replays retained messages of topicName with seq > since and
// attaches the queue, both under the topic lock: the caller sees every
// later message exactly once.
func (s *Subscriber) Resume(topicName string, since uint64) int {
	t := s.bus.topic(topicName)

	t.mu.Lock()
	defer t.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.topics[topicName] = struct{}{}
	s.mu.Unlock()

	replayed := 0
	if since != ^uint64(0) {
		for _, m := range t.ring {
			if m.Seq > since {
				if s.push(m) {
					s.bus.dropped.Add(1)
				}
				replayed++
			}
		}
	}
	t.subs[s] = struct{}{}
	return replayed
}

// SubscribePrefix attaches the queue to every topic starting with prefix,
// including topics created later.
func (s *Subscriber) SubscribePrefix(prefix string) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	b.prefixes[s] = append(b.prefixes[s], prefix)
}

// Unsubscribe detaches the queue from topicName.
func (s *Subscriber) Unsubscribe(topicName string) {
	t := s.bus.topic(topicName)
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()

	s.mu.Lock()
	delete(s.topics, topicName)
	s.mu.Unlock()
}

// Topics lists the exact topics the queue is attached to.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Close detaches the queue everywhere and closes C.
func (s *Subscriber) Close() {
	b := s.bus
	b.mu.Lock()
	delete(b.subs, s)
	delete(b.prefixes, s)
	b.mu.Unlock()

	for _, name := range s.Topics() {
		t := b.topic(name)
		t.mu.Lock()
		delete(t.subs, s)
		t.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.topics = nil
	close(s.ch)
}

// Close closes every open subscriber.
func (b *Bus) Close() {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
	b.log.Info("🔌 bus closed", zap.Int("subscribers", len(subs)))
}
