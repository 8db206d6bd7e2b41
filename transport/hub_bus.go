// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dispatch/lib/codec"
)

var _ Bus = (*HubBus)(nil)

// ErrHubClosed is returned by operations on a HubBus whose connection
// has ended.
var ErrHubClosed = errors.New("transport: hub connection closed")

// HubOptions configures a HubBus.
type HubOptions struct {
	// Publisher identifies this client in envelope ids. Defaults to a
	// random UUID.
	Publisher string

	// Compression applies to payloads of at least CompressionThreshold
	// bytes. Zero threshold means 4096.
	Compression          Compression
	CompressionThreshold int

	// DedupWindow is how many recent envelope ids are remembered for
	// redelivery detection. Zero means 1024.
	DedupWindow int

	Logger *slog.Logger
}

const (
	defaultCompressionThreshold = 4096
	defaultDedupWindow          = 1024
	hubDialTimeout              = 5 * time.Second
)

// HubBus is a Bus backed by one connection to a Hub.
type HubBus struct {
	conn      net.Conn
	options   HubOptions
	logger    *slog.Logger
	sequence  atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex

	// topicMu orders subscribe and unsubscribe frames with the local
	// subscription count changes that trigger them. Held before mu.
	topicMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string][]*hubSubscription
	dedup         *dedupWindow
}

// DialHub connects to the hub at socketPath.
func DialHub(ctx context.Context, socketPath string, options HubOptions) (*HubBus, error) {
	if options.Publisher == "" {
		options.Publisher = uuid.NewString()
	}
	if options.CompressionThreshold <= 0 {
		options.CompressionThreshold = defaultCompressionThreshold
	}
	if options.DedupWindow <= 0 {
		options.DedupWindow = defaultDedupWindow
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := net.Dialer{Timeout: hubDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to hub %s: %w", socketPath, err)
	}

	bus := &HubBus{
		conn:          conn,
		options:       options,
		logger:        logger.With("publisher", options.Publisher),
		done:          make(chan struct{}),
		subscriptions: make(map[string][]*hubSubscription),
		dedup:         newDedupWindow(options.DedupWindow),
	}
	go bus.readLoop()
	return bus, nil
}

// Done is closed when the hub connection ends.
func (b *HubBus) Done() <-chan struct{} { return b.done }

// Close ends the connection and stops every subscription.
func (b *HubBus) Close() error {
	err := b.conn.Close()
	b.shutdown()
	return err
}

func (b *HubBus) shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, subscriptions := range b.subscriptions {
			for _, subscription := range subscriptions {
				subscription.box.close()
			}
		}
		b.subscriptions = make(map[string][]*hubSubscription)
	})
}

// Publish sends payload to the hub for fan-out.
func (b *HubBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	envelope, err := sealEnvelope(b.options.Publisher, b.sequence.Add(1), topic, payload,
		b.options.Compression, b.options.CompressionThreshold)
	if err != nil {
		return fmt.Errorf("sealing %s envelope: %w", topic, err)
	}
	return b.send(frame{Op: opPublish, Topic: topic, Envelope: &envelope})
}

// Subscribe registers handler for topic. The hub is told about a
// topic only on its first local subscription.
func (b *HubBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	select {
	case <-b.done:
		return nil, ErrHubClosed
	default:
	}

	subscription := &hubSubscription{
		bus:   b,
		topic: topic,
		box:   newMailbox(topic, handler, b.logger, nil),
	}

	b.topicMu.Lock()
	defer b.topicMu.Unlock()

	b.mu.Lock()
	first := len(b.subscriptions[topic]) == 0
	b.subscriptions[topic] = append(b.subscriptions[topic], subscription)
	b.mu.Unlock()

	if first {
		if err := b.send(frame{Op: opSubscribe, Topic: topic}); err != nil {
			b.removeLocked(subscription)
			subscription.once.Do(subscription.box.close)
			return nil, err
		}
	}
	return subscription, nil
}

// removeLocked drops subscription from its topic and reports whether
// it was the last one. The caller holds topicMu.
func (b *HubBus) removeLocked(subscription *hubSubscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := slices.DeleteFunc(b.subscriptions[subscription.topic],
		func(candidate *hubSubscription) bool { return candidate == subscription })
	if len(remaining) == 0 {
		delete(b.subscriptions, subscription.topic)
		return true
	}
	b.subscriptions[subscription.topic] = remaining
	return false
}

func (b *HubBus) send(outgoing frame) error {
	data, err := encodeFrame(outgoing)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	select {
	case <-b.done:
		return ErrHubClosed
	default:
	}
	if _, err := b.conn.Write(data); err != nil {
		return fmt.Errorf("writing %s frame: %w", outgoing.Op, err)
	}
	return nil
}

func (b *HubBus) readLoop() {
	defer b.shutdown()

	decoder := newFrameDecoder(b.conn)
	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("hub connection lost", "error", err)
			}
			return
		}
		if incoming.Op != opDeliver || incoming.Envelope == nil {
			b.logger.Warn("unexpected frame from hub", "op", incoming.Op)
			continue
		}

		payload, err := incoming.Envelope.Open()
		if err != nil {
			b.logger.Warn("dropping envelope", "topic", incoming.Topic, "error", err)
			continue
		}

		b.mu.Lock()
		if !b.dedup.observe(incoming.Envelope.ID) {
			b.mu.Unlock()
			b.logger.Debug("dropping redelivered envelope",
				"topic", incoming.Topic,
				"from", incoming.Envelope.Publisher,
				"seq", incoming.Envelope.Sequence,
			)
			continue
		}
		subscribers := slices.Clone(b.subscriptions[incoming.Topic])
		b.mu.Unlock()

		for _, subscriber := range subscribers {
			subscriber.box.push(payload)
		}
	}
}

type hubSubscription struct {
	bus   *HubBus
	topic string
	box   *mailbox
	once  sync.Once
}

func (s *hubSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.box.close()
		s.bus.topicMu.Lock()
		defer s.bus.topicMu.Unlock()
		if s.bus.removeLocked(s) {
			err = s.bus.send(frame{Op: opUnsubscribe, Topic: s.topic})
			if errors.Is(err, ErrHubClosed) {
				err = nil
			}
		}
	})
	return err
}

func encodeFrame(f frame) ([]byte, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Op, err)
	}
	return data, nil
}

func newFrameDecoder(r io.Reader) *codec.Decoder {
	return codec.NewDecoder(r)
}
