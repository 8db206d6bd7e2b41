// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/transport"
)

// Callback decides whether the server accepts an add or cancel.
type Callback func(profile task.Profile) bool

// Server answers requests addressed to one server id and publishes
// status updates for the tasks it runs.
type Server struct {
	bus    transport.Bus
	id     string
	logger *slog.Logger
	clock  clock.Clock

	mu        sync.Mutex
	onAdd     Callback
	onCancel  Callback
	sequences map[string]uint64
}

// NewServer returns a server identified by serverID.
func NewServer(bus transport.Bus, serverID string, logger *slog.Logger, clk clock.Clock) (*Server, error) {
	if bus == nil {
		return nil, errors.New("action: nil bus")
	}
	if serverID == "" {
		return nil, errors.New("action: server id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Server{
		bus:       bus,
		id:        serverID,
		logger:    logger.With("server_id", serverID),
		clock:     clk,
		sequences: make(map[string]uint64),
	}, nil
}

// ID returns the server id requests must carry.
func (s *Server) ID() string { return s.id }

// RegisterCallbacks installs the add and cancel callbacks. Requests
// that arrive before registration are dropped without a response.
func (s *Server) RegisterCallbacks(onAdd, onCancel Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdd = onAdd
	s.onCancel = onCancel
}

// Start subscribes to requests until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	subscription, err := transport.SubscribeMessage(s.bus, transport.TopicActionRequest, s.logger,
		func(request Request) { s.handleRequest(ctx, request) })
	if err != nil {
		return fmt.Errorf("subscribing to action requests: %w", err)
	}
	go func() {
		<-ctx.Done()
		subscription.Close()
	}()
	return nil
}

func (s *Server) handleRequest(ctx context.Context, request Request) {
	if request.ServerID != s.id {
		return
	}

	s.mu.Lock()
	onAdd, onCancel := s.onAdd, s.onCancel
	s.mu.Unlock()

	var callback Callback
	switch request.Method {
	case MethodAdd:
		callback = onAdd
	case MethodCancel:
		callback = onCancel
	default:
		s.logger.Warn("unknown request method", "method", request.Method, "request_id", request.RequestID)
		return
	}
	if callback == nil {
		s.logger.Debug("dropping request before callbacks are registered",
			"method", request.Method, "task_id", request.Profile.TaskID)
		return
	}

	accepted := callback(request.Profile)
	response := Response{
		ServerID:  s.id,
		RequestID: request.RequestID,
		TaskID:    request.Profile.TaskID,
		Method:    request.Method,
		Success:   accepted,
	}
	if err := transport.PublishMessage(ctx, s.bus, transport.TopicActionResponse, response); err != nil {
		s.logger.Warn("publishing response failed", "task_id", request.Profile.TaskID, "error", err)
		return
	}
	s.logger.Info("request handled", "method", request.Method, "task_id", request.Profile.TaskID, "accepted", accepted)

	if request.Method == MethodAdd && accepted {
		queued := task.NewStatus(request.Profile)
		if err := s.UpdateStatus(ctx, queued); err != nil {
			s.logger.Warn("publishing queued status failed", "task_id", request.Profile.TaskID, "error", err)
		}
	}
}

// UpdateStatus publishes status for one of this server's tasks. The
// server id, update time and sequence number are filled in here; a
// terminal update ends the task's sequence.
func (s *Server) UpdateStatus(ctx context.Context, status task.Status) error {
	if status.TaskID == "" {
		return errors.New("action: status without task id")
	}

	s.mu.Lock()
	sequence := s.sequences[status.TaskID] + 1
	if status.IsTerminal() {
		delete(s.sequences, status.TaskID)
	} else {
		s.sequences[status.TaskID] = sequence
	}
	s.mu.Unlock()

	status.ServerID = s.id
	status.UpdatedAt = s.clock.Now()
	status.Sequence = sequence

	update := StatusUpdate{ServerID: s.id, Status: status}
	if err := transport.PublishMessage(ctx, s.bus, transport.TopicTaskStatus, update); err != nil {
		return fmt.Errorf("publishing status for %s: %w", status.TaskID, err)
	}
	s.logger.Debug("status published", "task_id", status.TaskID, "state", status.State, "sequence", sequence)
	return nil
}
