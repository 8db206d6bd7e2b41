// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"github.com/bureau-foundation/dispatch/lib/task"
)

// Tracking owns one task's entry in a Client. The entry stays until
// Release is called, the task is added again, or a cancel succeeds.
type Tracking struct {
	client *Client

	// Guarded by client.mu.
	status   task.Status
	released bool
}

// TaskID returns the tracked task id.
func (t *Tracking) TaskID() string { return t.status.TaskID }

// Status returns a copy of the latest accepted status.
func (t *Tracking) Status() task.Status {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	return t.status.Clone()
}

// Released reports whether the entry has left the client.
func (t *Tracking) Released() bool {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	return t.released
}

// Release removes the entry from the client. Later updates for the
// task are ignored. Calling Release more than once is harmless.
func (t *Tracking) Release() {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	t.client.releaseLocked(t)
}
