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
	"os"
	"sync"
)

// Frame operations on a hub connection.
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPublish     = "publish"
	opDeliver     = "deliver"
)

// frame is one CBOR value on a hub connection. Clients send
// subscribe, unsubscribe and publish; the hub sends deliver.
type frame struct {
	Op       string    `cbor:"op"`
	Topic    string    `cbor:"topic"`
	Envelope *Envelope `cbor:"envelope,omitempty"`
}

// Hub is the broker behind HubBus. It keeps one long-lived connection
// per client and forwards each published envelope, unchanged, to
// every connection subscribed to its topic (including the publisher's
// own connection when it subscribed).
type Hub struct {
	socketPath string
	logger     *slog.Logger
	ready      chan struct{}

	mu          sync.Mutex
	connections map[*hubConnection]struct{}

	active sync.WaitGroup
}

type hubConnection struct {
	conn   net.Conn
	topics map[string]bool // guarded by Hub.mu
	out    *mailbox
}

// NewHub returns a hub that will listen on socketPath.
func NewHub(socketPath string, logger *slog.Logger) *Hub {
	return &Hub{
		socketPath:  socketPath,
		logger:      logger,
		ready:       make(chan struct{}),
		connections: make(map[*hubConnection]struct{}),
	}
}

// Ready is closed once the socket is listening.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Serve accepts connections until ctx is cancelled, then closes every
// client connection and waits for their readers to exit. A stale
// socket file is replaced; the socket file is removed on return.
func (h *Hub) Serve(ctx context.Context) error {
	if err := os.Remove(h.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", h.socketPath, err)
	}

	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(h.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
		h.closeAll()
	}()

	h.logger.Info("hub listening", "path", h.socketPath)
	close(h.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			h.logger.Error("accept failed", "error", err)
			continue
		}

		client := &hubConnection{conn: conn, topics: make(map[string]bool)}
		client.out = newMailbox("hub-writer", func(data []byte) {
			if _, err := conn.Write(data); err != nil {
				h.logger.Debug("hub write failed", "error", err)
				conn.Close()
			}
		}, h.logger, nil)

		h.mu.Lock()
		h.connections[client] = struct{}{}
		h.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
		}

		h.active.Add(1)
		go func() {
			defer h.active.Done()
			h.serveConnection(client)
		}()
	}

	h.active.Wait()
	return nil
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.connections {
		client.conn.Close()
	}
}

func (h *Hub) serveConnection(client *hubConnection) {
	defer func() {
		h.mu.Lock()
		delete(h.connections, client)
		h.mu.Unlock()
		client.out.close()
		client.conn.Close()
	}()

	decoder := newFrameDecoder(client.conn)
	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("hub connection ended", "error", err)
			}
			return
		}

		switch incoming.Op {
		case opSubscribe:
			h.mu.Lock()
			client.topics[incoming.Topic] = true
			h.mu.Unlock()
		case opUnsubscribe:
			h.mu.Lock()
			delete(client.topics, incoming.Topic)
			h.mu.Unlock()
		case opPublish:
			if incoming.Envelope == nil {
				h.logger.Warn("publish frame without envelope", "topic", incoming.Topic)
				continue
			}
			h.forward(incoming.Topic, incoming.Envelope)
		default:
			h.logger.Warn("unknown hub frame", "op", incoming.Op)
		}
	}
}

func (h *Hub) forward(topic string, envelope *Envelope) {
	data, err := encodeFrame(frame{Op: opDeliver, Topic: topic, Envelope: envelope})
	if err != nil {
		h.logger.Error("encoding deliver frame", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.connections {
		if client.topics[topic] {
			client.out.push(data)
		}
	}
}
