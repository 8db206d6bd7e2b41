// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import "errors"

var (
	// ErrNoBidders: an auction closed with zero proposals. The task
	// fails without ever being handed to a fleet.
	ErrNoBidders = errors.New("no bidders responded")

	// ErrUntrackedTask: a cancel or status update named a task id
	// with no live tracking entry.
	ErrUntrackedTask = errors.New("task is not tracked")

	// ErrInvalidTransition: an update would leave a terminal state or
	// move backward. The prior status is kept.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrUnreachableServer is never produced by the action protocol
	// itself: an unanswered request simply leaves its future pending.
	// Callers that apply their own timeout wrap this to report it.
	ErrUnreachableServer = errors.New("action server did not acknowledge")

	// ErrDuplicateTask: a submission reused an id already registered.
	ErrDuplicateTask = errors.New("task id already registered")
)
