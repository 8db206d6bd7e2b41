// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bidding

import (
	"time"

	"github.com/bureau-foundation/dispatch/lib/task"
)

// Bid is one fleet's offer to execute a task.
type Bid struct {
	TaskID    string `cbor:"task_id"`
	FleetName string `cbor:"fleet_name"`
	RobotName string `cbor:"robot_name,omitempty"`

	// Cost is the fleet's total queue cost in seconds with this task
	// added. PreviousCost is the same figure without it.
	Cost         float64 `cbor:"cost"`
	PreviousCost float64 `cbor:"previous_cost"`

	// FinishTime is the fleet's estimate of when the task completes.
	FinishTime time.Time `cbor:"finish_time"`

	// ReceivedAt is stamped by the auctioneer on arrival.
	ReceivedAt time.Time `cbor:"received_at,omitempty"`
}

// DeltaCost is the cost this task adds to the fleet's queue.
func (b Bid) DeltaCost() float64 {
	return b.Cost - b.PreviousCost
}

// BidNotice is the call for bids.
type BidNotice struct {
	TaskID    string        `cbor:"task_id"`
	AuctionID string        `cbor:"auction_id"`
	Profile   task.Profile  `cbor:"profile"`
	Window    time.Duration `cbor:"window"`
}

// BidProposal answers a BidNotice.
type BidProposal struct {
	AuctionID string `cbor:"auction_id"`
	Bid       Bid    `cbor:"bid"`
}

// DispatchNotice announces an auction's winner.
type DispatchNotice struct {
	TaskID    string `cbor:"task_id"`
	AuctionID string `cbor:"auction_id"`
	FleetName string `cbor:"fleet_name"`
}
