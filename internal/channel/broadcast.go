// Package channel provides a fan-out broadcaster for slow, independent
// consumers such as event stream connections.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcaster is closed")

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// 每个订阅者的缓冲大小，满时丢弃新消息
	BufferSize int `json:"buffer_size"`
	// 订阅者上限，0 表示不限制
	MaxSubscribers int `json:"max_subscribers"`
}

// DefaultBroadcasterConfig returns sensible defaults.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		BufferSize:     64,
		MaxSubscribers: 256,
	}
}

// ErrTooManySubscribers is returned when MaxSubscribers is reached.
var ErrTooManySubscribers = errors.New("too many subscribers")

// Broadcaster delivers every published value to every subscriber without
// blocking the publisher. A subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	config BroadcasterConfig
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster[T any](config BroadcasterConfig) *Broadcaster[T] {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBroadcasterConfig().BufferSize
	}
	return &Broadcaster[T]{
		config: config,
		subs:   make(map[uint64]*Subscription[T]),
	}
}

// Subscription is one consumer's view of a Broadcaster.
type Subscription[T any] struct {
	id      uint64
	ch      chan T
	owner   *Broadcaster[T]
	dropped atomic.Int64
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription or the
// broadcaster is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many values this subscriber missed.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.owner.remove(s.id)
}

func (s *Subscription[T]) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a new consumer.
func (b *Broadcaster[T]) Subscribe() (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.config.MaxSubscribers > 0 && len(b.subs) >= b.config.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}
	b.nextID++
	s := &Subscription[T]{
		id:    b.nextID,
		ch:    make(chan T, b.config.BufferSize),
		owner: b,
	}
	b.subs[s.id] = s
	return s, nil
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.closeChan()
	}
}

// Publish offers v to every subscriber and returns how many received it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	b.published.Add(1)

	n := 0
	for _, s := range b.subs {
		select {
		case s.ch <- v:
			n++
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	b.delivered.Add(int64(n))
	return n
}

// Len returns the number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later Publish calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription[T])
	b.mu.Unlock()

	for _, s := range subs {
		s.closeChan()
	}
}

// Stats returns broadcaster statistics.
func (b *Broadcaster[T]) Stats() BroadcasterStats {
	return BroadcasterStats{
		Subscribers: b.Len(),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// BroadcasterStats contains broadcaster statistics.
type BroadcasterStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}
