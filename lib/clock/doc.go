// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for dispatch components.
//
// Auction windows, status timestamps, hand-off timeouts, and simulated
// fleet execution all read time through a Clock. Production wiring
// passes Real(); tests pass Fake() and move time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go auctioneer.RunAuction(ctx, profile, 2*time.Second)
//	fake.WaitForTimers(1)         // the auction armed its window
//	fake.Advance(2 * time.Second) // close the window deterministically
//
// WaitForTimers removes the race between a goroutine arming a timer
// and the test advancing past it.
package clock
