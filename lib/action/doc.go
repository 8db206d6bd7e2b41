// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action is the protocol between a dispatcher and the fleets
// executing its tasks.
//
// A [Client] sends add and cancel [Request] messages addressed to one
// [Server] by id and tracks the status of every task it added. Each
// request returns a [Future] that resolves when the addressed server
// answers. A request to a server that never answers leaves its future
// pending forever; callers that want a deadline pass a context to
// [Future.Wait].
//
// Servers report progress with [Server.UpdateStatus]. Every update
// carries a per-task sequence number, which the client uses to drop
// redelivered and reordered updates. The client applies accepted
// updates to the live status held by a [Tracking] handle and notifies
// OnChange subscribers; the first terminal update also notifies
// OnTerminate subscribers.
//
// A tracking entry lives until its handle is released or a cancel
// succeeds. Terminated entries are kept (and counted by [Client.Size])
// so the holder can still read the final status.
package action
