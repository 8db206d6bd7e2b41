// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
)

var _ Bus = (*MemoryBus)(nil)

// Filter decides how many copies of a published message each
// subscriber receives: 0 drops it, 1 is normal delivery, more than 1
// simulates redelivery.
type Filter func(topic string, payload []byte) int

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	filter        Filter

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

// NewMemoryBus returns an empty MemoryBus. A nil logger discards.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	bus := &MemoryBus{
		logger:        logger,
		subscriptions: make(map[string][]*memorySubscription),
	}
	bus.idle = sync.NewCond(&bus.pendingMu)
	return bus
}

// SetFilter installs filter for subsequent publishes. Nil restores
// normal delivery.
func (b *MemoryBus) SetFilter(filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = filter
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	subscribers := slices.Clone(b.subscriptions[topic])
	filter := b.filter
	b.mu.RUnlock()

	copies := 1
	if filter != nil {
		copies = filter(topic, payload)
	}
	if copies <= 0 || len(subscribers) == 0 {
		return nil
	}

	message := bytes.Clone(payload)
	for _, subscriber := range subscribers {
		for range copies {
			subscriber.box.push(message)
		}
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	subscription := &memorySubscription{
		bus:   b,
		topic: topic,
		box:   newMailbox(topic, handler, b.logger, b.settle),
	}

	b.mu.Lock()
	b.subscriptions[topic] = append(b.subscriptions[topic], subscription)
	b.mu.Unlock()
	return subscription, nil
}

// WaitIdle blocks until every published message has been handled or
// discarded, including messages published by handlers along the way.
func (b *MemoryBus) WaitIdle() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

func (b *MemoryBus) settle(delta int) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.pending += delta
	if b.pending == 0 {
		b.idle.Broadcast()
	}
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	box   *mailbox
	once  sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.subscriptions[s.topic] = slices.DeleteFunc(s.bus.subscriptions[s.topic],
			func(candidate *memorySubscription) bool { return candidate == s })
		s.bus.mu.Unlock()
		s.box.close()
	})
	return nil
}
