// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bidding runs the auction that decides which fleet executes a
// task.
//
// An [Auctioneer] publishes a [BidNotice], collects [BidProposal]
// messages for a fixed window measured on its clock, and hands the
// collected bids to an [Evaluator]. The winner is announced with a
// [DispatchNotice]. Every auction carries a fresh auction id, so late
// bids from an earlier auction of the same task are never counted.
//
// Evaluators are pure and deterministic: the same bid set yields the
// same winner regardless of arrival order. Ties on the strategy's
// metric go to the lexicographically smallest fleet name, then robot
// name.
//
// The fleet side of the protocol is a [Bidder], which answers notices
// from an [Estimator] and reports wins through an award callback.
package bidding
