// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// mailbox is an unbounded FIFO drained by one goroutine. Pushing never
// blocks, so a slow subscriber cannot stall a publisher; ordering is
// preserved per mailbox.
type mailbox struct {
	topic   string
	handler Handler
	logger  *slog.Logger

	// settle, when set, is told +1 for every accepted push and -1 for
	// every item delivered or discarded.
	settle func(delta int)

	mu     sync.Mutex
	ready  *sync.Cond
	queue  [][]byte
	closed bool
}

func newMailbox(topic string, handler Handler, logger *slog.Logger, settle func(int)) *mailbox {
	box := &mailbox{
		topic:   topic,
		handler: handler,
		logger:  logger,
		settle:  settle,
	}
	box.ready = sync.NewCond(&box.mu)
	go box.run()
	return box
}

// push enqueues payload. Returns false after close.
func (m *mailbox) push(payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.settle != nil {
		m.settle(1)
	}
	m.queue = append(m.queue, payload)
	m.ready.Signal()
	return true
}

// close stops delivery and discards anything still queued. It does
// not wait for an in-progress handler, so a handler may close its own
// subscription.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.ready.Signal()
}

func (m *mailbox) run() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.ready.Wait()
		}
		if m.closed {
			discarded := len(m.queue)
			m.queue = nil
			m.mu.Unlock()
			if m.settle != nil && discarded > 0 {
				m.settle(-discarded)
			}
			return
		}
		payload := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.deliver(payload)
		if m.settle != nil {
			m.settle(-1)
		}
	}
}

func (m *mailbox) deliver(payload []byte) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("subscriber panicked",
				"topic", m.topic,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	m.handler(payload)
}
