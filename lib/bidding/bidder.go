// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/transport"
)

// Estimator prices a task for one fleet. Returning false declines to
// bid. The returned Bid's TaskID and FleetName are filled in by the
// Bidder.
type Estimator func(profile task.Profile) (Bid, bool)

// Bidder answers bid notices on behalf of one fleet.
type Bidder struct {
	fleetName string
	bus       transport.Bus
	estimate  Estimator
	logger    *slog.Logger

	mu      sync.Mutex
	onAward func(DispatchNotice)
	pending map[string]task.Profile // auction id -> profile bid on

	// pendingOrder holds the most recent auction ids bid on, oldest at
	// pendingNext. Auctions canceled before award never see a dispatch
	// notice, so their entries leave pending when they age out here.
	pendingOrder []string
	pendingNext  int
}

// pendingAuctionLimit bounds how many unawarded auctions a Bidder
// remembers.
const pendingAuctionLimit = 1024

// NewBidder returns a Bidder for fleetName.
func NewBidder(fleetName string, bus transport.Bus, estimate Estimator, logger *slog.Logger) (*Bidder, error) {
	if fleetName == "" {
		return nil, errors.New("bidding: fleet name is required")
	}
	if bus == nil {
		return nil, errors.New("bidding: nil bus")
	}
	if estimate == nil {
		return nil, errors.New("bidding: nil estimator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bidder{
		fleetName: fleetName,
		bus:       bus,
		estimate:  estimate,
		logger:    logger.With("fleet", fleetName),
		pending:   make(map[string]task.Profile),

		pendingOrder: make([]string, pendingAuctionLimit),
	}, nil
}

// OnAward sets the callback run when this fleet wins an auction it bid
// in.
func (b *Bidder) OnAward(handler func(DispatchNotice)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAward = handler
}

// Start subscribes to notices and answers them until ctx is done.
// It returns once the subscriptions are in place.
func (b *Bidder) Start(ctx context.Context) error {
	notices, err := transport.SubscribeMessage(b.bus, transport.TopicBidNotice, b.logger,
		func(notice BidNotice) { b.handleNotice(ctx, notice) })
	if err != nil {
		return fmt.Errorf("subscribing to bid notices: %w", err)
	}
	awards, err := transport.SubscribeMessage(b.bus, transport.TopicDispatchNotice, b.logger, b.handleAward)
	if err != nil {
		notices.Close()
		return fmt.Errorf("subscribing to dispatch notices: %w", err)
	}
	go func() {
		<-ctx.Done()
		notices.Close()
		awards.Close()
	}()
	return nil
}

func (b *Bidder) handleNotice(ctx context.Context, notice BidNotice) {
	bid, ok := b.estimate(notice.Profile)
	if !ok {
		b.logger.Debug("declining to bid", "task_id", notice.TaskID)
		return
	}
	bid.TaskID = notice.TaskID
	bid.FleetName = b.fleetName

	b.mu.Lock()
	b.rememberLocked(notice.AuctionID, notice.Profile)
	b.mu.Unlock()

	proposal := BidProposal{AuctionID: notice.AuctionID, Bid: bid}
	if err := transport.PublishMessage(ctx, b.bus, transport.TopicBidProposal, proposal); err != nil {
		b.logger.Warn("publishing bid failed", "task_id", notice.TaskID, "error", err)
		return
	}
	b.logger.Debug("bid submitted", "task_id", notice.TaskID, "cost", bid.Cost, "delta_cost", bid.DeltaCost())
}

func (b *Bidder) rememberLocked(auctionID string, profile task.Profile) {
	if _, ok := b.pending[auctionID]; ok {
		b.pending[auctionID] = profile
		return
	}
	if evicted := b.pendingOrder[b.pendingNext]; evicted != "" {
		delete(b.pending, evicted)
	}
	b.pendingOrder[b.pendingNext] = auctionID
	b.pendingNext = (b.pendingNext + 1) % len(b.pendingOrder)
	b.pending[auctionID] = profile
}

func (b *Bidder) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bidder) handleAward(notice DispatchNotice) {
	b.mu.Lock()
	_, bid := b.pending[notice.AuctionID]
	delete(b.pending, notice.AuctionID)
	handler := b.onAward
	b.mu.Unlock()

	if !bid || notice.FleetName != b.fleetName {
		return
	}
	b.logger.Info("won auction", "task_id", notice.TaskID)
	if handler != nil {
		handler(notice)
	}
}
