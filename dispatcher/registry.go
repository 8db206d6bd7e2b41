// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"context"
	"maps"

	"github.com/bureau-foundation/dispatch/lib/action"
	"github.com/bureau-foundation/dispatch/lib/task"
)

// entry is an active task.
type entry struct {
	status task.Status

	// cancelAuction aborts allocation. Nil once the task has been
	// handed to a fleet.
	cancelAuction context.CancelFunc

	// tracking is set once the task has been handed to a fleet.
	tracking *action.Tracking
}

// registry holds the active and terminated tasks. Not safe for
// concurrent use; Dispatcher.mu guards it.
type registry struct {
	active     map[string]*entry
	terminated map[string]task.Status

	// order lists terminated ids oldest first, for eviction.
	order []string
	limit int
}

func newRegistry(limit int) *registry {
	return &registry{
		active:     make(map[string]*entry),
		terminated: make(map[string]task.Status),
		limit:      limit,
	}
}

func (r *registry) contains(id string) bool {
	if _, ok := r.active[id]; ok {
		return true
	}
	_, ok := r.terminated[id]
	return ok
}

// terminate moves id from active to terminated with status. Returns
// false when id is not active.
func (r *registry) terminate(id string, status task.Status) bool {
	current, ok := r.active[id]
	if !ok {
		return false
	}
	delete(r.active, id)
	if current.tracking != nil {
		current.tracking.Release()
	}
	r.terminated[id] = status
	r.order = append(r.order, id)
	r.evict()
	return true
}

func (r *registry) evict() {
	if r.limit <= 0 {
		return
	}
	for len(r.order) > r.limit {
		delete(r.terminated, r.order[0])
		r.order[0] = ""
		r.order = r.order[1:]
	}
}

func (r *registry) lookup(id string) (task.Status, bool) {
	if current, ok := r.active[id]; ok {
		return current.status.Clone(), true
	}
	status, ok := r.terminated[id]
	return status.Clone(), ok
}

func (r *registry) activeSnapshot() map[string]task.Status {
	snapshot := make(map[string]task.Status, len(r.active))
	for id, current := range r.active {
		snapshot[id] = current.status.Clone()
	}
	return snapshot
}

func (r *registry) terminatedSnapshot() map[string]task.Status {
	snapshot := maps.Clone(r.terminated)
	for id, status := range snapshot {
		snapshot[id] = status.Clone()
	}
	return snapshot
}
