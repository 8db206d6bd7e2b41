// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bidding

import (
	"github.com/bureau-foundation/dispatch/lib/task"
)

// Evaluator picks the winning fleet from a set of bids.
type Evaluator interface {
	// Kind names the strategy.
	Kind() task.EvaluatorKind

	// Select returns the winning fleet name, or task.ErrNoBidders
	// when bids is empty. It must not depend on the order of bids.
	Select(bids []Bid) (string, error)
}

// NewEvaluator returns the strategy for kind. Unrecognized kinds get
// task.DefaultEvaluator.
func NewEvaluator(kind task.EvaluatorKind) Evaluator {
	switch kind {
	case task.LowestCost:
		return LowestCost{}
	case task.QuickestFinish:
		return QuickestFinish{}
	default:
		return LowestDeltaCost{}
	}
}

// LowestCost picks the smallest absolute cost.
type LowestCost struct{}

func (LowestCost) Kind() task.EvaluatorKind { return task.LowestCost }

func (LowestCost) Select(bids []Bid) (string, error) {
	return selectMin(bids, func(a, b Bid) int { return compareFloat(a.Cost, b.Cost) })
}

// LowestDeltaCost picks the smallest increase over the fleet's
// existing queue cost.
type LowestDeltaCost struct{}

func (LowestDeltaCost) Kind() task.EvaluatorKind { return task.LowestDeltaCost }

func (LowestDeltaCost) Select(bids []Bid) (string, error) {
	return selectMin(bids, func(a, b Bid) int { return compareFloat(a.DeltaCost(), b.DeltaCost()) })
}

// QuickestFinish picks the earliest estimated finish time.
type QuickestFinish struct{}

func (QuickestFinish) Kind() task.EvaluatorKind { return task.QuickestFinish }

func (QuickestFinish) Select(bids []Bid) (string, error) {
	return selectMin(bids, func(a, b Bid) int { return a.FinishTime.Compare(b.FinishTime) })
}

// selectMin returns the fleet of the smallest bid under metric, with
// fleet name and then robot name breaking ties.
func selectMin(bids []Bid, metric func(a, b Bid) int) (string, error) {
	if len(bids) == 0 {
		return "", task.ErrNoBidders
	}
	best := bids[0]
	for _, candidate := range bids[1:] {
		if less(candidate, best, metric) {
			best = candidate
		}
	}
	return best.FleetName, nil
}

func less(a, b Bid, metric func(a, b Bid) int) bool {
	if order := metric(a, b); order != 0 {
		return order < 0
	}
	if a.FleetName != b.FleetName {
		return a.FleetName < b.FleetName
	}
	return a.RobotName < b.RobotName
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
