// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dispatch/lib/codec"
)

// Topics used by the dispatch protocols.
const (
	// TopicBidNotice carries calls for bids from the auctioneer.
	TopicBidNotice = "dispatch.bid-notice"
	// TopicBidProposal carries fleet bids back to the auctioneer.
	TopicBidProposal = "dispatch.bid-proposal"
	// TopicDispatchNotice announces auction winners.
	TopicDispatchNotice = "dispatch.dispatch-notice"
	// TopicActionRequest carries add/cancel requests addressed to an
	// action server id.
	TopicActionRequest = "dispatch.action-request"
	// TopicActionResponse carries server acknowledgments.
	TopicActionResponse = "dispatch.action-response"
	// TopicTaskStatus carries status updates from action servers.
	TopicTaskStatus = "dispatch.task-status"
)

// Handler receives one payload. Handlers for the same subscription
// never run concurrently. The payload must not be modified.
type Handler func(payload []byte)

// Subscription is a registered Handler. Close stops delivery; a
// message already being handled completes.
type Subscription interface {
	Close() error
}

// Bus is the publish/subscribe transport.
type Bus interface {
	// Publish sends payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic.
	Subscribe(topic string, handler Handler) (Subscription, error)
}

// PublishMessage CBOR-encodes message and publishes it.
func PublishMessage(ctx context.Context, bus Bus, topic string, message any) error {
	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", topic, err)
	}
	return bus.Publish(ctx, topic, payload)
}

// SubscribeMessage subscribes handler to topic, decoding each payload
// into T. Payloads that do not decode are logged and skipped.
func SubscribeMessage[T any](bus Bus, topic string, logger *slog.Logger, handler func(T)) (Subscription, error) {
	return bus.Subscribe(topic, func(payload []byte) {
		var message T
		if err := codec.Unmarshal(payload, &message); err != nil {
			logger.Warn("dropping undecodable message", "topic", topic, "error", err)
			return
		}
		handler(message)
	})
}
