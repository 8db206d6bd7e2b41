// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/dispatch/lib/testutil"
)

func startHub(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "hub.sock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(socketPath, logger)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- hub.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, served, 5*time.Second, "hub shutdown")
	})

	testutil.RequireClosed(t, hub.Ready(), 5*time.Second, "hub ready")
	return socketPath
}

func dial(t *testing.T, socketPath string, options HubOptions) *HubBus {
	t.Helper()
	options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := DialHub(context.Background(), socketPath, options)
	if err != nil {
		t.Fatalf("DialHub: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

// subscribeSynced subscribes and then round-trips a marker message through the
// hub on the same connection, so the hub is known to have registered
// the topic before the test publishes from elsewhere.
func subscribeSynced(t *testing.T, bus *HubBus, topic string) <-chan string {
	t.Helper()
	received := make(chan string, 100)
	if _, err := bus.Subscribe(topic, func(payload []byte) { received <- string(payload) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(context.Background(), topic, []byte("sync")); err != nil {
		t.Fatalf("sync publish: %v", err)
	}
	if got := testutil.RequireReceive(t, received, 5*time.Second, "sync message"); got != "sync" {
		t.Fatalf("sync message: got %q", got)
	}
	return received
}

func TestHubFanOut(t *testing.T) {
	socketPath := startHub(t)
	publisher := dial(t, socketPath, HubOptions{Publisher: "publisher"})
	first := dial(t, socketPath, HubOptions{})
	second := dial(t, socketPath, HubOptions{})

	firstReceived := subscribeSynced(t, first, "status")
	secondReceived := subscribeSynced(t, second, "status")

	for _, message := range []string{"one", "two", "three"} {
		if err := publisher.Publish(context.Background(), "status", []byte(message)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for _, received := range []<-chan string{firstReceived, secondReceived} {
		for _, want := range []string{"one", "two", "three"} {
			if got := testutil.RequireReceive(t, received, 5*time.Second, "waiting for %s", want); got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		}
	}
}

func TestHubCompressedPayloads(t *testing.T) {
	socketPath := startHub(t)
	large := strings.Repeat("queued executing completed ", 500)

	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			publisher := dial(t, socketPath, HubOptions{Compression: compression, CompressionThreshold: 128})
			subscriber := dial(t, socketPath, HubOptions{})
			topic := "large-" + compression.String()
			received := subscribeSynced(t, subscriber, topic)

			if err := publisher.Publish(context.Background(), topic, []byte(large)); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if got := testutil.RequireReceive(t, received, 5*time.Second, "large payload"); got != large {
				t.Fatalf("payload corrupted: %d bytes, want %d", len(got), len(large))
			}
		})
	}
}

func TestHubUnsubscribe(t *testing.T) {
	socketPath := startHub(t)
	publisher := dial(t, socketPath, HubOptions{})
	subscriber := dial(t, socketPath, HubOptions{})

	gone := make(chan string, 10)
	subscription, err := subscriber.Subscribe("t", func(payload []byte) { gone <- string(payload) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := subscription.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh subscription on a second topic orders after the
	// unsubscribe on this connection.
	marker := subscribeSynced(t, subscriber, "marker")

	publisher.Publish(context.Background(), "t", []byte("unwanted"))
	publisher.Publish(context.Background(), "marker", []byte("after"))

	testutil.RequireReceive(t, marker, 5*time.Second, "marker")
	testutil.RequireNothing(t, gone, 20*time.Millisecond, "delivery after unsubscribe")
}

// Closing the last subscription on a topic while another subscribe to
// the same topic races it must leave the hub registered for the topic.
func TestHubSubscribeRacingLastClose(t *testing.T) {
	socketPath := startHub(t)
	bus := dial(t, socketPath, HubOptions{})
	discard := func([]byte) {}

	for round := range 500 {
		first, err := bus.Subscribe("race", discard)
		if err != nil {
			t.Fatalf("round %d: Subscribe: %v", round, err)
		}

		received := make(chan string, 10)
		subscribed := make(chan Subscription, 1)
		go func() {
			second, err := bus.Subscribe("race", func(payload []byte) { received <- string(payload) })
			if err != nil {
				t.Errorf("round %d: Subscribe: %v", round, err)
			}
			subscribed <- second
		}()
		if err := first.Close(); err != nil {
			t.Fatalf("round %d: Close: %v", round, err)
		}
		second := testutil.RequireReceive(t, subscribed, 5*time.Second, "second subscription")
		if second == nil {
			t.FailNow()
		}

		want := fmt.Sprintf("round-%d", round)
		if err := bus.Publish(context.Background(), "race", []byte(want)); err != nil {
			t.Fatalf("round %d: Publish: %v", round, err)
		}
		if got := testutil.RequireReceive(t, received, 5*time.Second, "round %d delivery", round); got != want {
			t.Fatalf("round %d: got %q, want %q", round, got, want)
		}
		if err := second.Close(); err != nil {
			t.Fatalf("round %d: Close: %v", round, err)
		}
	}
}

func TestHubBusCloseEndsSubscriptions(t *testing.T) {
	socketPath := startHub(t)
	bus := dial(t, socketPath, HubOptions{})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, bus.Done(), 5*time.Second, "Done after Close")

	if _, err := bus.Subscribe("t", func([]byte) {}); err == nil {
		t.Fatal("Subscribe after Close succeeded")
	}
	if err := bus.Publish(context.Background(), "t", nil); err == nil {
		t.Fatal("Publish after Close succeeded")
	}
}
