// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bidding

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/transport"
)

// DefaultWindow is the bid collection window used when RunAuction is
// given a non-positive one.
const DefaultWindow = 2 * time.Second

// Result is the outcome of one auction.
type Result struct {
	AuctionID string
	Winner    string

	// Bids holds the counted proposals ordered by fleet name.
	Bids []Bid

	// Evaluator is the strategy that picked the winner.
	Evaluator task.EvaluatorKind
}

// Auctioneer runs auctions over a bus.
type Auctioneer struct {
	bus       transport.Bus
	clock     clock.Clock
	logger    *slog.Logger
	evaluator atomic.Pointer[Evaluator]
}

// NewAuctioneer returns an Auctioneer whose default strategy is
// evaluator (LowestDeltaCost when nil).
func NewAuctioneer(bus transport.Bus, clk clock.Clock, evaluator Evaluator, logger *slog.Logger) (*Auctioneer, error) {
	if bus == nil {
		return nil, errors.New("bidding: nil bus")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	auctioneer := &Auctioneer{bus: bus, clock: clk, logger: logger}
	auctioneer.SetEvaluator(evaluator)
	return auctioneer, nil
}

// SetEvaluator replaces the default strategy. Auctions already running
// keep the strategy they started with.
func (a *Auctioneer) SetEvaluator(evaluator Evaluator) {
	if evaluator == nil {
		evaluator = NewEvaluator(task.DefaultEvaluator)
	}
	a.evaluator.Store(&evaluator)
}

// Evaluator returns the current default strategy.
func (a *Auctioneer) Evaluator() Evaluator {
	return *a.evaluator.Load()
}

func (a *Auctioneer) evaluatorFor(profile task.Profile) Evaluator {
	if profile.Evaluator.Valid() {
		return NewEvaluator(profile.Evaluator)
	}
	return a.Evaluator()
}

// RunAuction calls for bids on profile, waits window on the
// auctioneer's clock, and announces the winner. It returns an error
// wrapping task.ErrNoBidders when nobody bid, and ctx.Err() when ctx
// ends first; in both cases no DispatchNotice is published.
func (a *Auctioneer) RunAuction(ctx context.Context, profile task.Profile, window time.Duration) (Result, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	evaluator := a.evaluatorFor(profile)
	auctionID := uuid.NewString()
	logger := a.logger.With("task_id", profile.TaskID, "auction_id", auctionID)

	var mu sync.Mutex
	bids := make(map[string]Bid)
	subscription, err := transport.SubscribeMessage(a.bus, transport.TopicBidProposal, logger,
		func(proposal BidProposal) {
			if proposal.AuctionID != auctionID || proposal.Bid.TaskID != profile.TaskID {
				return
			}
			bid := proposal.Bid
			bid.ReceivedAt = a.clock.Now()
			mu.Lock()
			bids[bid.FleetName] = bid
			mu.Unlock()
		})
	if err != nil {
		return Result{}, fmt.Errorf("subscribing to bid proposals: %w", err)
	}
	defer subscription.Close()

	notice := BidNotice{
		TaskID:    profile.TaskID,
		AuctionID: auctionID,
		Profile:   profile,
		Window:    window,
	}
	if err := transport.PublishMessage(ctx, a.bus, transport.TopicBidNotice, notice); err != nil {
		return Result{}, fmt.Errorf("publishing bid notice for %s: %w", profile.TaskID, err)
	}
	logger.Debug("bid notice published", "window", window, "evaluator", evaluator.Kind())

	select {
	case <-a.clock.After(window):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	subscription.Close()

	mu.Lock()
	collected := make([]Bid, 0, len(bids))
	for _, bid := range bids {
		collected = append(collected, bid)
	}
	mu.Unlock()
	slices.SortFunc(collected, func(x, y Bid) int { return cmp.Compare(x.FleetName, y.FleetName) })

	winner, err := evaluator.Select(collected)
	if err != nil {
		return Result{AuctionID: auctionID, Evaluator: evaluator.Kind()},
			fmt.Errorf("auction for %s: %w", profile.TaskID, err)
	}

	if err := transport.PublishMessage(ctx, a.bus, transport.TopicDispatchNotice, DispatchNotice{
		TaskID:    profile.TaskID,
		AuctionID: auctionID,
		FleetName: winner,
	}); err != nil {
		return Result{}, fmt.Errorf("publishing dispatch notice for %s: %w", profile.TaskID, err)
	}
	logger.Info("auction closed", "winner", winner, "bids", len(collected), "evaluator", evaluator.Kind())

	return Result{
		AuctionID: auctionID,
		Winner:    winner,
		Bids:      collected,
		Evaluator: evaluator.Kind(),
	}, nil
}
