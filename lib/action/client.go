// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/transport"
)

// StatusHandler receives a copy of a task's status.
type StatusHandler func(status task.Status)

type handlerEntry struct {
	id      uint64
	handler StatusHandler
}

type pendingRequest struct {
	method   Method
	serverID string
	tracking *Tracking
	future   *Future
}

// Client sends requests to action servers and tracks the tasks it
// added.
type Client struct {
	bus    transport.Bus
	logger *slog.Logger
	clock  clock.Clock

	mu        sync.Mutex
	tracked   map[string]*Tracking
	pending   map[string]*pendingRequest
	onChange  []handlerEntry
	onEnd     []handlerEntry
	handlerID uint64
}

// NewClient returns a client. Call Start before adding tasks.
func NewClient(bus transport.Bus, logger *slog.Logger, clk clock.Clock) (*Client, error) {
	if bus == nil {
		return nil, errors.New("action: nil bus")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Client{
		bus:     bus,
		logger:  logger,
		clock:   clk,
		tracked: make(map[string]*Tracking),
		pending: make(map[string]*pendingRequest),
	}, nil
}

// Start subscribes to responses and status updates until ctx is done.
func (c *Client) Start(ctx context.Context) error {
	responses, err := transport.SubscribeMessage(c.bus, transport.TopicActionResponse, c.logger, c.handleResponse)
	if err != nil {
		return fmt.Errorf("subscribing to action responses: %w", err)
	}
	updates, err := transport.SubscribeMessage(c.bus, transport.TopicTaskStatus, c.logger, c.handleStatus)
	if err != nil {
		responses.Close()
		return fmt.Errorf("subscribing to task status: %w", err)
	}
	go func() {
		<-ctx.Done()
		responses.Close()
		updates.Close()
	}()
	return nil
}

// AddTask asks serverID to run profile. Tracking starts at once, in
// state Queued. The future resolves with the server's answer; a
// rejected add ends tracking. If no server answers the future never
// resolves.
//
// Adding a task id that is already tracked replaces the old entry and
// releases its handle.
func (c *Client) AddTask(ctx context.Context, serverID string, profile task.Profile) (*Tracking, *Future) {
	status := task.NewStatus(profile)
	status.ServerID = serverID
	tracking := &Tracking{client: c, status: status}
	future := newFuture()
	requestID := uuid.NewString()

	c.mu.Lock()
	if previous, ok := c.tracked[profile.TaskID]; ok {
		c.releaseLocked(previous)
	}
	c.tracked[profile.TaskID] = tracking
	c.pending[requestID] = &pendingRequest{
		method:   MethodAdd,
		serverID: serverID,
		tracking: tracking,
		future:   future,
	}
	c.mu.Unlock()

	c.send(ctx, requestID, Request{
		Method:    MethodAdd,
		ServerID:  serverID,
		RequestID: requestID,
		Profile:   profile,
	})
	return tracking, future
}

// CancelTask asks the server running profile's task to cancel it. An
// untracked task yields a future already resolved to false and no
// request is sent. A successful cancel ends tracking; a rejected one
// leaves the task tracked.
func (c *Client) CancelTask(ctx context.Context, profile task.Profile) *Future {
	c.mu.Lock()
	tracking, ok := c.tracked[profile.TaskID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("cancel for untracked task", "task_id", profile.TaskID)
		return resolvedFuture(false)
	}
	serverID := tracking.status.ServerID
	trackedProfile := tracking.status.Profile
	future := newFuture()
	requestID := uuid.NewString()
	c.pending[requestID] = &pendingRequest{
		method:   MethodCancel,
		serverID: serverID,
		tracking: tracking,
		future:   future,
	}
	c.mu.Unlock()

	c.send(ctx, requestID, Request{
		Method:    MethodCancel,
		ServerID:  serverID,
		RequestID: requestID,
		Profile:   trackedProfile,
	})
	return future
}

// send publishes request. A publish failure resolves the request's
// future to false.
func (c *Client) send(ctx context.Context, requestID string, request Request) {
	err := transport.PublishMessage(ctx, c.bus, transport.TopicActionRequest, request)
	if err == nil {
		return
	}
	c.logger.Warn("publishing request failed",
		"method", request.Method,
		"task_id", request.Profile.TaskID,
		"server_id", request.ServerID,
		"error", err,
	)
	c.mu.Lock()
	pending := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if pending != nil {
		pending.future.resolve(false)
	}
}

// OnChange registers handler for every accepted status update,
// including the first Queued report. The returned function removes it.
func (c *Client) OnChange(handler StatusHandler) (unsubscribe func()) {
	return c.register(&c.onChange, handler)
}

// OnTerminate registers handler for the first terminal update of each
// task. The returned function removes it.
func (c *Client) OnTerminate(handler StatusHandler) (unsubscribe func()) {
	return c.register(&c.onEnd, handler)
}

func (c *Client) register(list *[]handlerEntry, handler StatusHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerID++
	id := c.handlerID
	*list = append(*list, handlerEntry{id: id, handler: handler})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		*list = slices.DeleteFunc(*list, func(entry handlerEntry) bool { return entry.id == id })
	}
}

// Size returns the number of tracked tasks, terminated ones included.
func (c *Client) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

// Tracking returns the live handle for taskID.
func (c *Client) Tracking(taskID string) (*Tracking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tracking, ok := c.tracked[taskID]
	return tracking, ok
}

func (c *Client) releaseLocked(tracking *Tracking) {
	if tracking.released {
		return
	}
	tracking.released = true
	if c.tracked[tracking.status.TaskID] == tracking {
		delete(c.tracked, tracking.status.TaskID)
	}
	// Requests still outstanding for the handle are forgotten; their
	// futures never resolve, as for a server that never answers.
	for requestID, pending := range c.pending {
		if pending.tracking == tracking {
			delete(c.pending, requestID)
		}
	}
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) handleResponse(response Response) {
	c.mu.Lock()
	pending, ok := c.pending[response.RequestID]
	if !ok || pending.serverID != response.ServerID || pending.method != response.Method {
		c.mu.Unlock()
		return
	}
	delete(c.pending, response.RequestID)

	switch {
	case pending.method == MethodAdd && !response.Success:
		c.releaseLocked(pending.tracking)
	case pending.method == MethodCancel && response.Success:
		c.releaseLocked(pending.tracking)
	}
	c.mu.Unlock()

	c.logger.Debug("request answered",
		"method", response.Method,
		"task_id", response.TaskID,
		"server_id", response.ServerID,
		"success", response.Success,
	)
	pending.future.resolve(response.Success)
}

func (c *Client) handleStatus(update StatusUpdate) {
	taskID := update.Status.TaskID

	c.mu.Lock()
	tracking, ok := c.tracked[taskID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if update.ServerID != tracking.status.ServerID {
		c.mu.Unlock()
		c.logger.Debug("ignoring status from untracked server",
			"task_id", taskID,
			"server_id", update.ServerID,
			"expected", tracking.status.ServerID,
		)
		return
	}
	if update.Status.Sequence != 0 && update.Status.Sequence <= tracking.status.Sequence {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale status", "task_id", taskID, "sequence", update.Status.Sequence)
		return
	}

	wasTerminal := tracking.status.IsTerminal()
	if err := tracking.status.Apply(update.Status); err != nil {
		c.mu.Unlock()
		c.logger.Warn("rejecting status update",
			"task_id", taskID,
			"state", update.Status.State,
			"error", err,
		)
		return
	}
	snapshot := tracking.status.Clone()
	changeHandlers := slices.Clone(c.onChange)
	var endHandlers []handlerEntry
	if snapshot.IsTerminal() && !wasTerminal {
		endHandlers = slices.Clone(c.onEnd)
	}
	c.mu.Unlock()

	for _, entry := range changeHandlers {
		entry.handler(snapshot.Clone())
	}
	for _, entry := range endHandlers {
		entry.handler(snapshot.Clone())
	}
}
