// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/dispatch/lib/action"
	"github.com/bureau-foundation/dispatch/lib/bidding"
	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
)

// job is one accepted task in the fleet's queue.
type job struct {
	profile  task.Profile
	duration time.Duration
	canceled chan struct{}
	stopping bool
	started  time.Time
}

// fleet simulates a single-robot fleet: tasks run one at a time in
// acceptance order, each taking the configured duration for its type.
type fleet struct {
	name      string
	baseCost  float64
	durations map[task.Type]time.Duration
	clock     clock.Clock
	server    *action.Server
	logger    *slog.Logger

	mu      sync.Mutex
	queue   []*job // queue[0] is executing when running is true
	running bool
	wake    chan struct{}
}

func newFleet(name string, baseCost float64, durations map[task.Type]time.Duration,
	clk clock.Clock, server *action.Server, logger *slog.Logger) *fleet {
	return &fleet{
		name:      name,
		baseCost:  baseCost,
		durations: durations,
		clock:     clk,
		server:    server,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// queueEndLocked is when the last accepted task is expected to finish.
func (f *fleet) queueEndLocked(now time.Time) time.Time {
	end := now
	for i, queued := range f.queue {
		remaining := queued.duration
		if i == 0 && f.running {
			remaining -= now.Sub(queued.started)
		}
		if remaining > 0 {
			end = end.Add(remaining)
		}
	}
	return end
}

// estimate prices a task as the time until it would finish behind the
// current queue, plus the fleet's base cost. Unknown task types are
// declined.
func (f *fleet) estimate(profile task.Profile) (bidding.Bid, bool) {
	duration, ok := f.durations[profile.Type]
	if !ok {
		return bidding.Bid{}, false
	}
	now := f.clock.Now()

	f.mu.Lock()
	queueEnd := f.queueEndLocked(now)
	f.mu.Unlock()

	finish := queueEnd.Add(duration)
	return bidding.Bid{
		RobotName:    f.name + "-1",
		Cost:         f.baseCost + finish.Sub(now).Seconds(),
		PreviousCost: f.baseCost + queueEnd.Sub(now).Seconds(),
		FinishTime:   finish,
	}, true
}

// add is the action server's add callback.
func (f *fleet) add(profile task.Profile) bool {
	duration, ok := f.durations[profile.Type]
	if !ok {
		f.logger.Warn("rejecting task of unsupported type", "task_id", profile.TaskID, "type", profile.Type)
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.ContainsFunc(f.queue, func(queued *job) bool { return queued.profile.Equal(profile) }) {
		return false
	}
	f.queue = append(f.queue, &job{
		profile:  profile.Clone(),
		duration: duration,
		canceled: make(chan struct{}),
	})
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// cancel is the action server's cancel callback. A queued task is
// dropped and reported Canceled here; an executing one is stopped and
// reported by the worker.
func (f *fleet) cancel(ctx context.Context, profile task.Profile) bool {
	f.mu.Lock()
	index := slices.IndexFunc(f.queue, func(queued *job) bool { return queued.profile.Equal(profile) })
	if index < 0 {
		f.mu.Unlock()
		return false
	}
	target := f.queue[index]
	if index == 0 && f.running {
		if !target.stopping {
			target.stopping = true
			close(target.canceled)
		}
		f.mu.Unlock()
		return true
	}
	f.queue = slices.Delete(f.queue, index, index+1)
	f.mu.Unlock()

	status := f.status(target)
	status.State = task.Canceled
	status.EndedAt = f.clock.Now()
	if err := f.server.UpdateStatus(ctx, status); err != nil {
		f.logger.Warn("publishing canceled status failed", "task_id", profile.TaskID, "error", err)
	}
	return true
}

func (f *fleet) status(current *job) task.Status {
	status := task.NewStatus(current.profile)
	status.FleetName = f.name
	status.RobotName = f.name + "-1"
	status.StartedAt = current.started
	return status
}

// run executes queued tasks until ctx is done.
func (f *fleet) run(ctx context.Context) {
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-f.wake:
			}
			continue
		}
		current := f.queue[0]
		current.started = f.clock.Now()
		f.running = true
		f.mu.Unlock()

		if !f.execute(ctx, current) {
			return
		}
	}
}

// execute runs one job to completion or cancellation. It returns false
// when ctx ended first.
func (f *fleet) execute(ctx context.Context, current *job) bool {
	logger := f.logger.With("task_id", current.profile.TaskID)

	status := f.status(current)
	status.State = task.Executing
	if err := f.server.UpdateStatus(ctx, status); err != nil {
		logger.Warn("publishing executing status failed", "error", err)
	}
	logger.Info("task started", "type", current.profile.Type, "duration", current.duration)

	select {
	case <-f.clock.After(current.duration):
		status.State = task.Completed
	case <-current.canceled:
		status.State = task.Canceled
	case <-ctx.Done():
		return false
	}
	status.EndedAt = f.clock.Now()

	f.mu.Lock()
	f.queue = f.queue[1:]
	f.running = false
	f.mu.Unlock()

	if err := f.server.UpdateStatus(ctx, status); err != nil {
		logger.Warn("publishing final status failed", "error", err)
	}
	logger.Info("task finished", "state", status.State)
	return true
}
