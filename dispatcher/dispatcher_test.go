// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/dispatch/lib/action"
	"github.com/bureau-foundation/dispatch/lib/bidding"
	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/lib/testutil"
	"github.com/bureau-foundation/dispatch/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	window  = 2 * time.Second
	timeout = 5 * time.Second
)

type harness struct {
	ctx        context.Context
	bus        *transport.MemoryBus
	clock      *clock.FakeClock
	logger     *slog.Logger
	dispatcher *Dispatcher
	terminated chan task.Status
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := transport.NewMemoryBus(logger)
	fake := clock.Fake(epoch)

	if config.BidWindow == 0 {
		config.BidWindow = window
	}
	dispatcher, err := New(bus, fake, logger, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	terminated := make(chan task.Status, 16)
	dispatcher.OnTerminated(func(status task.Status) { terminated <- status })

	return &harness{
		ctx:        ctx,
		bus:        bus,
		clock:      fake,
		logger:     logger,
		dispatcher: dispatcher,
		terminated: terminated,
	}
}

// closeAuction lets every bidder answer the auction in progress and
// then ends its window.
func (h *harness) closeAuction() {
	h.clock.WaitForTimers(1)
	h.bus.WaitIdle()
	h.clock.Advance(window)
}

type fleet struct {
	name     string
	server   *action.Server
	added    chan task.Profile
	canceled chan task.Profile
	accept   atomic.Bool
}

// addFleet starts a bidder quoting cost and an action server for name.
func (h *harness) addFleet(t *testing.T, name string, cost float64) *fleet {
	t.Helper()
	return h.addBiddingFleet(t, name, bidding.Bid{
		Cost:       cost,
		FinishTime: epoch.Add(time.Duration(cost) * time.Minute),
	})
}

func (h *harness) addBiddingFleet(t *testing.T, name string, bid bidding.Bid) *fleet {
	t.Helper()
	bidder, err := bidding.NewBidder(name, h.bus, func(task.Profile) (bidding.Bid, bool) {
		return bid, true
	}, h.logger)
	if err != nil {
		t.Fatalf("NewBidder: %v", err)
	}
	if err := bidder.Start(h.ctx); err != nil {
		t.Fatalf("bidder Start: %v", err)
	}

	server, err := action.NewServer(h.bus, name, h.logger, h.clock)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f := &fleet{
		name:     name,
		server:   server,
		added:    make(chan task.Profile, 8),
		canceled: make(chan task.Profile, 8),
	}
	f.accept.Store(true)
	server.RegisterCallbacks(
		func(profile task.Profile) bool {
			f.added <- profile
			return f.accept.Load()
		},
		func(profile task.Profile) bool {
			f.canceled <- profile
			return f.accept.Load()
		},
	)
	if err := server.Start(h.ctx); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	return f
}

// requirePartition checks that every known id is in exactly one
// registry.
func (h *harness) requirePartition(t *testing.T, ids ...string) {
	t.Helper()
	active := h.dispatcher.ActiveTasks()
	terminated := h.dispatcher.TerminatedTasks()
	for _, id := range ids {
		_, inActive := active[id]
		_, inTerminated := terminated[id]
		if inActive == inTerminated {
			t.Errorf("task %s: active=%v terminated=%v", id, inActive, inTerminated)
		}
	}
}

func TestNoBiddersFailsTask(t *testing.T) {
	h := newHarness(t, Config{})

	id, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{TaskID: "T1", Type: task.Station})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if id != "T1" {
		t.Fatalf("id = %q, want T1", id)
	}
	if status, ok := h.dispatcher.ActiveTasks()["T1"]; !ok || status.State != task.Queued {
		t.Fatalf("T1 not recorded Queued during its auction: %+v", status)
	}

	h.closeAuction()
	status := testutil.RequireReceive(t, h.terminated, timeout, "T1 terminated")
	if status.TaskID != "T1" || status.State != task.Failed {
		t.Fatalf("terminated %+v, want T1 Failed", status)
	}
	if _, ok := h.dispatcher.ActiveTasks()["T1"]; ok {
		t.Error("T1 still active")
	}
	if got := h.dispatcher.TerminatedTasks()["T1"]; got.State != task.Failed || got.Acknowledged() {
		t.Errorf("terminated entry = %+v, want Failed and never acknowledged", got)
	}
	h.requirePartition(t, "T1")
}

func TestUnrecognizedTypeFailsWithoutBids(t *testing.T) {
	for _, taskType := range []task.Type{"Station", "teleport", ""} {
		t.Run(string(taskType), func(t *testing.T) {
			h := newHarness(t, Config{})

			if _, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{TaskID: "T1", Type: taskType}); err != nil {
				t.Fatalf("SubmitTask: %v", err)
			}
			h.closeAuction()
			status := testutil.RequireReceive(t, h.terminated, timeout, "T1 terminated")
			if status.State != task.Failed || status.Type != taskType {
				t.Fatalf("terminated %+v, want T1 Failed with type %q", status, taskType)
			}
			if _, ok := h.dispatcher.ActiveTasks()["T1"]; ok {
				t.Error("T1 still active")
			}
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t, Config{DefaultEvaluator: task.LowestCost})
	fleetA := h.addFleet(t, "fleetA", 5)
	fleetB := h.addFleet(t, "fleetB", 3)

	id, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Delivery, Params: map[string]string{"pickup": "dock"}})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	h.closeAuction()

	added := testutil.RequireReceive(t, fleetB.added, timeout, "hand-off to fleetB")
	if added.TaskID != id || added.Params["pickup"] != "dock" {
		t.Fatalf("fleetB got %+v", added)
	}
	if !added.StartTime.Equal(epoch) {
		t.Errorf("StartTime = %v, want stamped %v", added.StartTime, epoch)
	}
	testutil.RequireNothing(t, fleetA.added, 20*time.Millisecond, "losing fleet received the task")
	h.bus.WaitIdle()

	status, ok := h.dispatcher.Task(id)
	if !ok || status.State != task.Queued || status.FleetName != "fleetB" || !status.Acknowledged() {
		t.Fatalf("status after hand-off = %+v", status)
	}

	executing := task.Status{Profile: added, State: task.Executing, RobotName: "robot-7", StartedAt: epoch}
	if err := fleetB.server.UpdateStatus(h.ctx, executing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	h.bus.WaitIdle()
	status, _ = h.dispatcher.Task(id)
	if status.State != task.Executing || status.RobotName != "robot-7" {
		t.Fatalf("status = %+v, want Executing on robot-7", status)
	}

	completed := executing
	completed.State = task.Completed
	completed.EndedAt = epoch.Add(time.Minute)
	fleetB.server.UpdateStatus(h.ctx, completed)

	final := testutil.RequireReceive(t, h.terminated, timeout, "completion")
	if final.TaskID != id || final.State != task.Completed || final.FleetName != "fleetB" {
		t.Fatalf("final = %+v", final)
	}
	if len(h.dispatcher.ActiveTasks()) != 0 {
		t.Error("active registry not empty")
	}
	if h.dispatcher.client.Size() != 0 {
		t.Errorf("tracking not released: size %d", h.dispatcher.client.Size())
	}
	h.requirePartition(t, id)
}

func TestCancelDuringAuction(t *testing.T) {
	h := newHarness(t, Config{})
	fleetA := h.addFleet(t, "fleetA", 1)

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop})
	h.clock.WaitForTimers(1)
	h.bus.WaitIdle()

	canceled, err := h.dispatcher.CancelTask(h.ctx, id)
	if err != nil || !canceled {
		t.Fatalf("CancelTask = %v, %v; want true", canceled, err)
	}
	status := testutil.RequireReceive(t, h.terminated, timeout, "canceled task")
	if status.State != task.Canceled {
		t.Fatalf("state = %s, want Canceled", status.State)
	}

	h.clock.Advance(window)
	h.bus.WaitIdle()
	testutil.RequireNothing(t, fleetA.added, 20*time.Millisecond, "fleet called after cancel")
	h.requirePartition(t, id)

	if again, _ := h.dispatcher.CancelTask(h.ctx, id); again {
		t.Error("canceling a terminated task succeeded")
	}
}

func TestCancelAfterHandoff(t *testing.T) {
	h := newHarness(t, Config{})
	fleetA := h.addFleet(t, "fleetA", 1)

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Clean})
	h.closeAuction()
	testutil.RequireReceive(t, fleetA.added, timeout, "hand-off")
	h.bus.WaitIdle()

	canceled, err := h.dispatcher.CancelTask(h.ctx, id)
	if err != nil || !canceled {
		t.Fatalf("CancelTask = %v, %v; want true", canceled, err)
	}
	if profile := testutil.RequireReceive(t, fleetA.canceled, timeout, "fleet cancel"); profile.TaskID != id {
		t.Errorf("fleet canceled %q", profile.TaskID)
	}
	status := testutil.RequireReceive(t, h.terminated, timeout, "canceled task")
	if status.State != task.Canceled || status.FleetName != "fleetA" {
		t.Fatalf("status = %+v", status)
	}
	h.requirePartition(t, id)
}

func TestCancelRefusedKeepsTaskActive(t *testing.T) {
	h := newHarness(t, Config{})
	fleetA := h.addFleet(t, "fleetA", 1)

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Patrol})
	h.closeAuction()
	testutil.RequireReceive(t, fleetA.added, timeout, "hand-off")
	h.bus.WaitIdle()

	fleetA.accept.Store(false)
	canceled, err := h.dispatcher.CancelTask(h.ctx, id)
	if err != nil || canceled {
		t.Fatalf("CancelTask = %v, %v; want false", canceled, err)
	}
	if _, ok := h.dispatcher.ActiveTasks()[id]; !ok {
		t.Error("refused cancel removed the task")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	h := newHarness(t, Config{})
	canceled, err := h.dispatcher.CancelTask(h.ctx, "nope")
	if err != nil || canceled {
		t.Fatalf("CancelTask = %v, %v; want false, nil", canceled, err)
	}
}

func TestFleetRejectsTask(t *testing.T) {
	h := newHarness(t, Config{})
	fleetA := h.addFleet(t, "fleetA", 1)
	fleetA.accept.Store(false)

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Charging})
	h.closeAuction()

	status := testutil.RequireReceive(t, h.terminated, timeout, "rejected task")
	if status.TaskID != id || status.State != task.Failed || status.FleetName != "fleetA" {
		t.Fatalf("status = %+v", status)
	}
}

func TestHandoffTimeout(t *testing.T) {
	h := newHarness(t, Config{HandoffTimeout: 30 * time.Second})
	h.addFleet(t, "fleetA", 1)
	h.bus.SetFilter(func(topic string, payload []byte) int {
		if topic == transport.TopicActionRequest {
			return 0
		}
		return 1
	})

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Delivery})
	h.closeAuction()

	// The auction timer has fired; the next one is the hand-off timer.
	h.clock.WaitForTimers(1)
	h.clock.Advance(30 * time.Second)

	status := testutil.RequireReceive(t, h.terminated, timeout, "timed-out task")
	if status.TaskID != id || status.State != task.Failed {
		t.Fatalf("status = %+v", status)
	}
}

func TestWithoutHandoffTimeoutTaskWaits(t *testing.T) {
	h := newHarness(t, Config{})
	h.addFleet(t, "fleetA", 1)
	h.bus.SetFilter(func(topic string, payload []byte) int {
		if topic == transport.TopicActionRequest {
			return 0
		}
		return 1
	})

	id, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Delivery})
	h.closeAuction()
	h.bus.WaitIdle()
	h.clock.Advance(time.Hour)

	testutil.RequireNothing(t, h.terminated, 20*time.Millisecond, "task failed without a timeout policy")
	if _, ok := h.dispatcher.ActiveTasks()[id]; !ok {
		t.Error("unacknowledged task left the active registry")
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, Config{})

	if _, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{TaskID: "dup", Type: task.Loop}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{TaskID: "dup", Type: task.Loop}); !errors.Is(err, task.ErrDuplicateTask) {
		t.Errorf("duplicate: error = %v", err)
	}

	first, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop})
	second, _ := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop})
	if first == second || first == "" {
		t.Errorf("generated ids %q and %q", first, second)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	dispatcher, err := New(transport.NewMemoryBus(nil), clock.Fake(epoch), nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := dispatcher.SubmitTask(context.Background(), task.Profile{Type: task.Loop}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("error = %v, want ErrNotStarted", err)
	}
	if _, err := New(nil, nil, nil, Config{}); err == nil {
		t.Fatal("New(nil bus) succeeded")
	}
}

func TestEvaluatorSelection(t *testing.T) {
	h := newHarness(t, Config{DefaultEvaluator: task.LowestCost})
	cheap := h.addBiddingFleet(t, "cheap", bidding.Bid{Cost: 1, FinishTime: epoch.Add(time.Hour)})
	quick := h.addBiddingFleet(t, "quick", bidding.Bid{Cost: 10, FinishTime: epoch.Add(time.Minute)})

	// An unknown name falls back to the dispatcher default.
	id, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop, Evaluator: "no-such-strategy"})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if status, _ := h.dispatcher.Task(id); status.Evaluator != "" {
		t.Errorf("unknown evaluator kept as %q", status.Evaluator)
	}
	h.closeAuction()
	testutil.RequireReceive(t, cheap.added, timeout, "lowest-cost winner")
	h.bus.WaitIdle()

	// A legacy name on one submission applies to that auction only.
	id, _ = h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop, Evaluator: "quickest_time"})
	if status, _ := h.dispatcher.Task(id); status.Evaluator != task.QuickestFinish {
		t.Errorf("legacy evaluator name resolved to %q", status.Evaluator)
	}
	h.closeAuction()
	testutil.RequireReceive(t, quick.added, timeout, "quickest-finish winner")
	h.bus.WaitIdle()
	if h.dispatcher.Evaluator() != task.LowestCost {
		t.Errorf("per-task evaluator changed the default to %s", h.dispatcher.Evaluator())
	}

	// Changing the default affects later auctions.
	h.dispatcher.SetEvaluator(task.QuickestFinish)
	h.dispatcher.SubmitTask(h.ctx, task.Profile{Type: task.Loop})
	h.closeAuction()
	testutil.RequireReceive(t, quick.added, timeout, "winner under new default")
	testutil.RequireNothing(t, cheap.added, 20*time.Millisecond, "old default still applied")
}

func TestTerminatedLimit(t *testing.T) {
	h := newHarness(t, Config{TerminatedLimit: 1})

	for _, id := range []string{"first", "second"} {
		if _, err := h.dispatcher.SubmitTask(h.ctx, task.Profile{TaskID: id, Type: task.Station}); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
		h.closeAuction()
		testutil.RequireReceive(t, h.terminated, timeout, "%s terminated", id)
	}

	terminated := h.dispatcher.TerminatedTasks()
	if len(terminated) != 1 {
		t.Fatalf("terminated = %d entries, want 1", len(terminated))
	}
	if _, ok := terminated["second"]; !ok {
		t.Error("newest terminated entry evicted")
	}
	if _, ok := h.dispatcher.Task("first"); ok {
		t.Error("evicted task still visible")
	}
}
