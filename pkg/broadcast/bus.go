/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package broadcast fans state-change events out to live viewer connections.
//
// Publish never blocks: events go into a bounded ring that sheds its oldest
// entry when full. A single dispatcher drains the ring into per-subscription
// outboxes, and each subscription has its own writer, so a slow viewer only
// ever loses its own connection.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

const (
	DefaultQueueSize    = 1024
	DefaultOutboxSize   = 256
	DefaultWriteTimeout = 5 * time.Second
)

var (
	// ErrDelivery is the cause recorded when a connection is dropped for a
	// failed or stalled send.
	ErrDelivery = errors.New("event delivery failed")
	// ErrClosed is returned by Subscribe once the bus has been closed.
	ErrClosed = errors.New("broadcast bus closed")
)

// Conn is one live viewer connection.
type Conn interface {
	Send(ctx context.Context, event models.Event) error
	Close() error
}

// Config sizes the bus.
type Config struct {
	QueueSize    int
	OutboxSize   int
	WriteTimeout time.Duration
}

type envelope struct {
	seq   uint64
	event models.Event
}

// Bus is the event bus and fan-out broadcaster.
type Bus struct {
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	ring   []envelope
	head   int
	count  int
	seq    uint64
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool

	notify  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       uint64
	startSeq uint64
	bus      *Bus
	conn     Conn
	outbox   chan models.Event
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

// New starts a bus and its dispatcher.
func New(cfg Config, log logger.Logger) *Bus {
	b := newBus(cfg, log)

	b.wg.Add(1)

	go b.dispatch()

	return b
}

func newBus(cfg Config, log logger.Logger) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return &Bus{
		cfg:    cfg,
		logger: log,
		ring:   make([]envelope, cfg.QueueSize),
		subs:   make(map[uint64]*Subscription),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish enqueues event and returns immediately. When the queue is full the
// oldest pending event is dropped. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event models.Event) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	if b.count == len(b.ring) {
		oldest := b.ring[b.head]
		b.ring[b.head] = envelope{}
		b.head = (b.head + 1) % len(b.ring)
		b.count--

		b.dropped.Add(1)
		recordDropped(string(oldest.event.Kind))
	}

	b.seq++
	b.ring[(b.head+b.count)%len(b.ring)] = envelope{seq: b.seq, event: event}
	b.count++
	b.mu.Unlock()

	recordPublished(string(event.Kind))

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Subscribe registers conn. It receives every event published after this
// call returns and nothing published before it.
func (b *Bus) Subscribe(conn Conn) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++

	sub := &Subscription{
		id:       b.nextID,
		startSeq: b.seq,
		bus:      b,
		conn:     conn,
		outbox:   make(chan models.Event, b.cfg.OutboxSize),
		done:     make(chan struct{}),
	}

	b.subs[sub.id] = sub

	b.wg.Add(1)

	go sub.write(b.cfg.WriteTimeout)

	return sub, nil
}

// Unsubscribe removes sub and closes its connection. It is idempotent and
// safe to call after the connection has already failed.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()

		close(sub.done)

		if err := sub.conn.Close(); err != nil {
			b.logger.Debug().Err(err).Uint64("subscription", sub.id).Msg("Error closing viewer connection")
		}
	})
}

// Close stops the dispatcher, abandons queued events and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	abandoned := b.count
	b.count = 0
	b.ring = nil

	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	close(b.done)

	for _, s := range subs {
		b.Unsubscribe(s)
	}

	b.wg.Wait()

	b.logger.Info().
		Int("abandoned", abandoned).
		Int("subscribers", len(subs)).
		Msg("Event bus closed")
}

// Dropped reports how many events were shed because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers reports how many connections are currently registered.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case <-b.notify:
		}

		for {
			batch, subs := b.drain()
			if len(batch) == 0 {
				break
			}

			for _, env := range batch {
				for _, s := range subs {
					s.offer(env)
				}
			}

			select {
			case <-b.done:
				return
			default:
			}
		}
	}
}

// drain takes every queued envelope along with a snapshot of the current subscriptions.
func (b *Bus) drain() ([]envelope, []*Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil, nil
	}

	batch := make([]envelope, b.count)
	for i := range batch {
		idx := (b.head + i) % len(b.ring)
		batch[i] = b.ring[idx]
		b.ring[idx] = envelope{}
	}

	b.head = 0
	b.count = 0

	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}

	return batch, subs
}

func (s *Subscription) offer(env envelope) {
	if env.seq <= s.startSeq {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.outbox <- env.event:
	default:
		s.fail(fmt.Errorf("%w: outbox full", ErrDelivery), "outbox_full")
	}
}

func (s *Subscription) write(timeout time.Duration) {
	defer s.bus.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event := <-s.outbox:
			select {
			case <-s.done:
				return
			default:
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := s.conn.Send(ctx, event)
			cancel()

			if err != nil {
				s.fail(fmt.Errorf("%w: %w", ErrDelivery, err), "send_error")
				return
			}
		}
	}
}

func (s *Subscription) fail(err error, reason string) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()

	s.bus.logger.Warn().Err(err).Uint64("subscription", s.id).Msg("Dropping viewer connection")
	recordDisconnect(reason)

	s.bus.Unsubscribe(s)
}

// Err returns why the subscription was dropped, or nil if it was removed
// normally or is still live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
