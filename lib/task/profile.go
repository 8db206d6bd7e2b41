// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"maps"
	"strings"
	"time"
)

// Type is the task category requested by the submitter.
type Type string

// Categories fleets are known to bid on. Other values are accepted;
// whether anyone bids on them is up to the fleets.
const (
	Station  Type = "station"
	Loop     Type = "loop"
	Delivery Type = "delivery"
	Charging Type = "charging"
	Clean    Type = "clean"
	Patrol   Type = "patrol"
)

var knownTypes = map[Type]bool{
	Station: true, Loop: true, Delivery: true,
	Charging: true, Clean: true, Patrol: true,
}

// Known reports whether t is one of the predefined categories,
// ignoring case.
func (t Type) Known() bool { return knownTypes[Type(strings.ToLower(string(t)))] }

// EvaluatorKind names an auction winner-selection strategy.
type EvaluatorKind string

const (
	// LowestCost picks the smallest absolute finish-time cost.
	LowestCost EvaluatorKind = "lowest-cost"
	// LowestDeltaCost picks the smallest cost increase over the
	// fleet's existing queue.
	LowestDeltaCost EvaluatorKind = "lowest-delta-cost"
	// QuickestFinish picks the earliest estimated completion.
	QuickestFinish EvaluatorKind = "quickest-finish"

	// DefaultEvaluator is used when no strategy is named or the name
	// is not recognized.
	DefaultEvaluator = LowestDeltaCost
)

var evaluatorAliases = map[string]EvaluatorKind{
	"lowest-cost":       LowestCost,
	"lowest_cost":       LowestCost,
	"lowest-delta-cost": LowestDeltaCost,
	"lowest_delta_cost": LowestDeltaCost,
	"quickest-finish":   QuickestFinish,
	"quickest_finish":   QuickestFinish,
	"quickest_time":     QuickestFinish,
}

// ParseEvaluatorKind resolves a strategy name. Unknown or empty names
// return DefaultEvaluator with ok=false so the caller can log the
// fallback; submission never fails on a bad name.
func ParseEvaluatorKind(name string) (kind EvaluatorKind, ok bool) {
	if kind, ok := evaluatorAliases[name]; ok {
		return kind, true
	}
	return DefaultEvaluator, false
}

// Valid reports whether k names a built-in strategy.
func (k EvaluatorKind) Valid() bool {
	switch k {
	case LowestCost, LowestDeltaCost, QuickestFinish:
		return true
	}
	return false
}

// Profile describes requested work. It is fixed at submission; every
// holder keeps its own copy.
type Profile struct {
	TaskID    string            `json:"task_id"`
	Type      Type              `json:"type"`
	StartTime time.Time         `json:"start_time"`
	Evaluator EvaluatorKind     `json:"evaluator,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Equal compares profiles by task id.
func (p Profile) Equal(other Profile) bool {
	return p.TaskID == other.TaskID
}

// Clone returns a copy that shares no maps with p.
func (p Profile) Clone() Profile {
	p.Params = maps.Clone(p.Params)
	return p
}
