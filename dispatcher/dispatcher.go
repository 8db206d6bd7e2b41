// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dispatch/lib/action"
	"github.com/bureau-foundation/dispatch/lib/bidding"
	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/transport"
)

var (
	// ErrNotStarted is returned by SubmitTask before Start.
	ErrNotStarted = errors.New("dispatcher not started")
)

// Config tunes a Dispatcher.
type Config struct {
	// BidWindow is how long each auction collects bids. Zero means
	// bidding.DefaultWindow.
	BidWindow time.Duration

	// DefaultEvaluator is the auction strategy for tasks that do not
	// name one.
	DefaultEvaluator task.EvaluatorKind

	// HandoffTimeout fails a task whose winning fleet has not
	// acknowledged it in time. Zero waits indefinitely.
	HandoffTimeout time.Duration

	// TerminatedLimit caps the terminated registry, evicting the
	// oldest entries first. Zero keeps everything.
	TerminatedLimit int
}

type terminatedHandler struct {
	id      uint64
	handler func(task.Status)
}

// Dispatcher owns the task registry and drives allocation.
type Dispatcher struct {
	clock      clock.Clock
	logger     *slog.Logger
	config     Config
	auctioneer *bidding.Auctioneer
	client     *action.Client

	mu           sync.Mutex
	registry     *registry
	baseCtx      context.Context
	onTerminated []terminatedHandler
	handlerID    uint64

	allocations sync.WaitGroup
}

// New returns a Dispatcher using bus for auctions and task hand-off.
func New(bus transport.Bus, clk clock.Clock, logger *slog.Logger, config Config) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.New("dispatcher: nil bus")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !config.DefaultEvaluator.Valid() {
		config.DefaultEvaluator = task.DefaultEvaluator
	}
	if config.BidWindow <= 0 {
		config.BidWindow = bidding.DefaultWindow
	}

	auctioneer, err := bidding.NewAuctioneer(bus, clk, bidding.NewEvaluator(config.DefaultEvaluator), logger)
	if err != nil {
		return nil, err
	}
	client, err := action.NewClient(bus, logger, clk)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		clock:      clk,
		logger:     logger,
		config:     config,
		auctioneer: auctioneer,
		client:     client,
		registry:   newRegistry(config.TerminatedLimit),
	}, nil
}

// Start subscribes to task status and enables submissions. Allocations
// started later run until they finish or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.client.Start(ctx); err != nil {
		return err
	}
	d.client.OnChange(d.handleStatus)

	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()
	return nil
}

// Wait blocks until every allocation goroutine has returned. Call it
// after the Start context is done.
func (d *Dispatcher) Wait() {
	d.allocations.Wait()
}

// SubmitTask registers profile and starts its auction. It returns the
// task id at once; allocation continues in the background.
//
// An empty TaskID is replaced with a generated one and a zero
// StartTime with the current time. An unrecognized evaluator falls
// back to the dispatcher's default. Any task type is accepted; a type
// no fleet bids on fails with no bidders.
func (d *Dispatcher) SubmitTask(ctx context.Context, profile task.Profile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	profile = profile.Clone()
	if profile.TaskID == "" {
		profile.TaskID = "task-" + uuid.NewString()
	}
	if profile.StartTime.IsZero() {
		profile.StartTime = d.clock.Now()
	}
	if profile.Evaluator != "" {
		kind, ok := task.ParseEvaluatorKind(string(profile.Evaluator))
		if ok {
			profile.Evaluator = kind
		} else {
			d.logger.Warn("unknown evaluator, using default",
				"task_id", profile.TaskID,
				"evaluator", profile.Evaluator,
				"default", d.auctioneer.Evaluator().Kind(),
			)
			profile.Evaluator = ""
		}
	}

	d.mu.Lock()
	if d.baseCtx == nil {
		d.mu.Unlock()
		return "", ErrNotStarted
	}
	if d.registry.contains(profile.TaskID) {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: %s", task.ErrDuplicateTask, profile.TaskID)
	}
	auctionCtx, cancel := context.WithCancel(d.baseCtx)
	d.registry.active[profile.TaskID] = &entry{
		status:        task.NewStatus(profile),
		cancelAuction: cancel,
	}
	d.allocations.Add(1)
	d.mu.Unlock()

	d.logger.Info("task submitted", "task_id", profile.TaskID, "type", profile.Type)
	if !profile.Type.Known() {
		d.logger.Debug("task type is not a predefined category", "task_id", profile.TaskID, "type", profile.Type)
	}
	go func() {
		defer d.allocations.Done()
		defer cancel()
		d.allocate(auctionCtx, profile)
	}()
	return profile.TaskID, nil
}

// allocate auctions profile and hands it to the winner.
func (d *Dispatcher) allocate(ctx context.Context, profile task.Profile) {
	logger := d.logger.With("task_id", profile.TaskID)

	result, err := d.auctioneer.RunAuction(ctx, profile, d.config.BidWindow)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("allocation abandoned", "error", err)
			return
		}
		if errors.Is(err, task.ErrNoBidders) {
			logger.Warn("no fleet bid on task")
		} else {
			logger.Error("auction failed", "error", err)
		}
		d.fail(profile.TaskID, "")
		return
	}

	d.mu.Lock()
	current, ok := d.registry.active[profile.TaskID]
	if !ok {
		// Canceled while the auction was closing.
		d.mu.Unlock()
		return
	}
	current.cancelAuction = nil
	current.status.FleetName = result.Winner
	current.status.ServerID = result.Winner
	// Publishing never runs subscriber handlers inline, so the hand-off
	// can happen under the registry lock.
	tracking, future := d.client.AddTask(ctx, result.Winner, profile)
	current.tracking = tracking
	d.mu.Unlock()

	logger.Info("task handed to fleet", "fleet", result.Winner, "evaluator", result.Evaluator)
	d.awaitHandoff(ctx, profile.TaskID, result.Winner, future)
}

// awaitHandoff fails the task if the fleet rejects it or, when a
// hand-off timeout is configured, does not answer in time.
func (d *Dispatcher) awaitHandoff(ctx context.Context, taskID, fleet string, future *action.Future) {
	var timeout <-chan time.Time
	if d.config.HandoffTimeout > 0 {
		timeout = d.clock.After(d.config.HandoffTimeout)
	}

	select {
	case <-future.Done():
		if accepted, _ := future.Resolved(); accepted {
			return
		}
		d.logger.Warn("fleet rejected task", "task_id", taskID, "fleet", fleet)
	case <-timeout:
		d.logger.Warn("fleet did not acknowledge task",
			"task_id", taskID,
			"fleet", fleet,
			"error", task.ErrUnreachableServer,
		)
	case <-ctx.Done():
		return
	}
	d.fail(taskID, fleet)
}

// fail moves an active task to terminated as Failed. Nothing happens
// if the task has already left the active registry.
func (d *Dispatcher) fail(taskID, fleet string) {
	d.mu.Lock()
	current, ok := d.registry.active[taskID]
	if !ok || current.status.Acknowledged() {
		d.mu.Unlock()
		return
	}
	status := current.status.Clone()
	status.State = task.Failed
	if fleet != "" {
		status.FleetName = fleet
	}
	status.EndedAt = d.clock.Now()
	status.UpdatedAt = status.EndedAt
	d.registry.terminate(taskID, status)
	handlers := d.terminatedHandlersLocked()
	d.mu.Unlock()

	notify(handlers, status)
}

// handleStatus mirrors accepted updates from the action client.
func (d *Dispatcher) handleStatus(status task.Status) {
	d.mu.Lock()
	current, ok := d.registry.active[status.TaskID]
	if !ok || current.tracking == nil || status.ServerID != current.status.ServerID {
		d.mu.Unlock()
		return
	}
	status.Profile = current.status.Profile
	if status.FleetName == "" {
		status.FleetName = current.status.FleetName
	}
	current.status = status
	if !status.IsTerminal() {
		d.mu.Unlock()
		return
	}
	d.registry.terminate(status.TaskID, status)
	handlers := d.terminatedHandlersLocked()
	d.mu.Unlock()

	d.logger.Info("task finished", "task_id", status.TaskID, "state", status.State, "fleet", status.FleetName)
	notify(handlers, status)
}

// CancelTask cancels an active task. A task still in its auction is
// withdrawn without contacting any fleet. A task already handed off is
// canceled through its fleet, waiting under ctx for the answer. It
// returns false for unknown and terminated tasks and for refusals.
func (d *Dispatcher) CancelTask(ctx context.Context, taskID string) (bool, error) {
	d.mu.Lock()
	current, ok := d.registry.active[taskID]
	if !ok {
		d.mu.Unlock()
		return false, nil
	}
	if current.tracking == nil {
		current.cancelAuction()
		status := d.canceledStatus(current.status)
		d.registry.terminate(taskID, status)
		handlers := d.terminatedHandlersLocked()
		d.mu.Unlock()

		d.logger.Info("task withdrawn before hand-off", "task_id", taskID)
		notify(handlers, status)
		return true, nil
	}
	profile := current.status.Profile
	d.mu.Unlock()

	future := d.client.CancelTask(ctx, profile)
	canceled, err := future.Wait(ctx)
	if err != nil {
		return false, fmt.Errorf("waiting for %s cancel acknowledgment: %w", taskID, err)
	}
	if !canceled {
		return false, nil
	}

	d.mu.Lock()
	current, ok = d.registry.active[taskID]
	if !ok {
		// The fleet's Canceled status got there first.
		d.mu.Unlock()
		return true, nil
	}
	status := d.canceledStatus(current.status)
	d.registry.terminate(taskID, status)
	handlers := d.terminatedHandlersLocked()
	d.mu.Unlock()

	d.logger.Info("task canceled", "task_id", taskID)
	notify(handlers, status)
	return true, nil
}

// OnTerminated registers handler to run each time a task enters the
// terminated registry. The returned function removes it.
func (d *Dispatcher) OnTerminated(handler func(task.Status)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlerID++
	id := d.handlerID
	d.onTerminated = append(d.onTerminated, terminatedHandler{id: id, handler: handler})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onTerminated = slices.DeleteFunc(d.onTerminated,
			func(entry terminatedHandler) bool { return entry.id == id })
	}
}

func (d *Dispatcher) terminatedHandlersLocked() []terminatedHandler {
	return slices.Clone(d.onTerminated)
}

func notify(handlers []terminatedHandler, status task.Status) {
	for _, entry := range handlers {
		entry.handler(status.Clone())
	}
}

func (d *Dispatcher) canceledStatus(status task.Status) task.Status {
	status = status.Clone()
	status.State = task.Canceled
	status.EndedAt = d.clock.Now()
	status.UpdatedAt = status.EndedAt
	return status
}

// ActiveTasks returns a snapshot of the active registry.
func (d *Dispatcher) ActiveTasks() map[string]task.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.activeSnapshot()
}

// TerminatedTasks returns a snapshot of the terminated registry.
func (d *Dispatcher) TerminatedTasks() map[string]task.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.terminatedSnapshot()
}

// Task looks up one task in either registry.
func (d *Dispatcher) Task(taskID string) (task.Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.lookup(taskID)
}

// SetEvaluator changes the default strategy for auctions that start
// afterwards.
func (d *Dispatcher) SetEvaluator(kind task.EvaluatorKind) {
	d.auctioneer.SetEvaluator(bidding.NewEvaluator(kind))
	d.logger.Info("default evaluator changed", "evaluator", d.auctioneer.Evaluator().Kind())
}

// Evaluator returns the current default strategy.
func (d *Dispatcher) Evaluator() task.EvaluatorKind {
	return d.auctioneer.Evaluator().Kind()
}
