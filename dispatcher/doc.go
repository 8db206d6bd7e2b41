// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher allocates submitted tasks to fleets and keeps the
// registry of every task it has accepted.
//
// A submission is recorded as Queued in the active registry and
// auctioned among the fleets listening on the bus. The winning fleet's
// action server receives the task through an [action.Client]; from
// then on the server's status updates drive the registry. The first
// terminal status moves a task from active to terminated. A task with
// no bidders goes straight to terminated as Failed.
//
// A task id is in exactly one of the two registries at any time from
// the moment SubmitTask returns. Both maps live under one mutex and
// every move happens under it.
//
// [Dispatcher.RegisterActions] exposes submission, cancellation and
// queries on a [service.SocketServer].
package dispatcher
