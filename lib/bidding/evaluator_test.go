// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bidding

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/dispatch/lib/task"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluators(t *testing.T) {
	bids := []Bid{
		// Cheapest overall but adds the most to its queue.
		{FleetName: "alpha", Cost: 10, PreviousCost: 2, FinishTime: epoch.Add(30 * time.Minute)},
		// Smallest increase.
		{FleetName: "bravo", Cost: 40, PreviousCost: 38, FinishTime: epoch.Add(20 * time.Minute)},
		// Finishes first.
		{FleetName: "charlie", Cost: 25, PreviousCost: 15, FinishTime: epoch.Add(5 * time.Minute)},
	}

	tests := []struct {
		kind task.EvaluatorKind
		want string
	}{
		{task.LowestCost, "alpha"},
		{task.LowestDeltaCost, "bravo"},
		{task.QuickestFinish, "charlie"},
	}
	for _, test := range tests {
		t.Run(string(test.kind), func(t *testing.T) {
			evaluator := NewEvaluator(test.kind)
			if evaluator.Kind() != test.kind {
				t.Errorf("Kind() = %s, want %s", evaluator.Kind(), test.kind)
			}
			got, err := evaluator.Select(bids)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if got != test.want {
				t.Errorf("winner = %q, want %q", got, test.want)
			}
		})
	}
}

func TestEvaluatorSimpleLowestCost(t *testing.T) {
	bids := []Bid{
		{FleetName: "fleetA", Cost: 5},
		{FleetName: "fleetB", Cost: 3},
	}
	got, err := LowestCost{}.Select(bids)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "fleetB" {
		t.Errorf("winner = %q, want fleetB", got)
	}
}

func TestEvaluatorTieBreak(t *testing.T) {
	bids := []Bid{
		{FleetName: "zulu", RobotName: "r1", Cost: 7},
		{FleetName: "mike", RobotName: "r9", Cost: 7},
		{FleetName: "mike", RobotName: "r2", Cost: 7},
		{FleetName: "yankee", Cost: 9},
	}
	for _, kind := range []task.EvaluatorKind{task.LowestCost, task.LowestDeltaCost, task.QuickestFinish} {
		evaluator := NewEvaluator(kind)
		first, err := evaluator.Select(bids)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		reversed := slices.Clone(bids)
		slices.Reverse(reversed)
		second, _ := evaluator.Select(reversed)
		if first != second {
			t.Errorf("%s: winner depends on order: %q vs %q", kind, first, second)
		}
	}

	got, _ := LowestCost{}.Select(bids)
	if got != "mike" {
		t.Errorf("tie winner = %q, want mike", got)
	}
}

func TestEvaluatorNoBids(t *testing.T) {
	for _, kind := range []task.EvaluatorKind{task.LowestCost, task.LowestDeltaCost, task.QuickestFinish} {
		if _, err := NewEvaluator(kind).Select(nil); !errors.Is(err, task.ErrNoBidders) {
			t.Errorf("%s: error = %v, want ErrNoBidders", kind, err)
		}
	}
}

func TestNewEvaluatorFallback(t *testing.T) {
	if got := NewEvaluator("cheapest-please").Kind(); got != task.DefaultEvaluator {
		t.Errorf("unknown kind fell back to %s, want %s", got, task.DefaultEvaluator)
	}
	if got := NewEvaluator("").Kind(); got != task.DefaultEvaluator {
		t.Errorf("empty kind fell back to %s, want %s", got, task.DefaultEvaluator)
	}
}
