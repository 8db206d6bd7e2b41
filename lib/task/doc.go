// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package task is the vocabulary shared by every dispatch component:
// the immutable [Profile] a submitter describes work with, the mutable
// [Status] that tracks one task through its lifecycle, and the error
// taxonomy the auction and action protocols report through.
//
// # Lifecycle
//
// A task moves forward only:
//
//	Queued -> Executing -> Completed | Canceled | Failed
//
// Queued may also go straight to a terminal state (a fleet rejects
// or cancels before starting). Repeating Queued or Executing is
// allowed so executors can re-announce progress. Nothing leaves a
// terminal state, and nothing returns to Queued from Executing;
// [Transition] reports such moves as [ErrInvalidTransition] and
// [Status.Apply] leaves the prior status untouched.
//
// # Evaluator selection
//
// Profiles carry a typed [EvaluatorKind] instead of a free-form
// "evaluator" parameter. [ParseEvaluatorKind] accepts both the
// canonical names and the legacy underscore spellings, and falls back
// to [DefaultEvaluator] for anything else.
package task
