// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/dispatch/lib/service"
	"github.com/bureau-foundation/dispatch/lib/task"
)

// Socket actions.
const (
	ActionSubmitTask   = "submit-task"
	ActionCancelTask   = "cancel-task"
	ActionGetTask      = "get-task"
	ActionStatus       = "status"
	ActionSetEvaluator = "set-evaluator"
)

// SubmitRequest is the submit-task request.
type SubmitRequest struct {
	TaskID    string            `cbor:"task_id,omitempty"`
	Type      task.Type         `cbor:"type"`
	StartTime time.Time         `cbor:"start_time,omitempty"`
	Evaluator string            `cbor:"evaluator,omitempty"`
	Params    map[string]string `cbor:"params,omitempty"`
}

// SubmitResponse is the submit-task result.
type SubmitResponse struct {
	TaskID string `cbor:"task_id"`
}

// CancelRequest is the cancel-task request.
type CancelRequest struct {
	TaskID string `cbor:"task_id"`
}

// CancelResponse is the cancel-task result.
type CancelResponse struct {
	TaskID   string `cbor:"task_id"`
	Canceled bool   `cbor:"canceled"`
}

// GetRequest is the get-task request. An empty TaskIDs selects every
// task.
type GetRequest struct {
	TaskIDs []string `cbor:"task_ids,omitempty"`
}

// TaskList is the get-task result, each slice ordered by task id.
// Requested ids that match nothing are listed in Unknown.
type TaskList struct {
	Active     []task.Status `cbor:"active"`
	Terminated []task.Status `cbor:"terminated"`
	Unknown    []string      `cbor:"unknown,omitempty"`
}

// StatusResponse is the status result.
type StatusResponse struct {
	Active     int                `cbor:"active"`
	Terminated int                `cbor:"terminated"`
	Evaluator  task.EvaluatorKind `cbor:"evaluator"`
	BidWindow  time.Duration      `cbor:"bid_window"`
}

// EvaluatorRequest is the set-evaluator request.
type EvaluatorRequest struct {
	Evaluator string `cbor:"evaluator"`
}

// EvaluatorResponse reports the default strategy after set-evaluator.
type EvaluatorResponse struct {
	Evaluator task.EvaluatorKind `cbor:"evaluator"`
}

// RegisterActions adds the dispatcher's actions to server.
func (d *Dispatcher) RegisterActions(server *service.SocketServer) {
	server.Handle(ActionSubmitTask, d.handleSubmit)
	server.Handle(ActionCancelTask, d.handleCancel)
	server.Handle(ActionGetTask, d.handleGet)
	server.Handle(ActionStatus, d.handleStatusAction)
	server.Handle(ActionSetEvaluator, d.handleSetEvaluator)
}

func (d *Dispatcher) handleSubmit(ctx context.Context, raw []byte) (any, error) {
	request, err := service.DecodeRequest[SubmitRequest](raw)
	if err != nil {
		return nil, err
	}
	// Submitters that only carry free-form params may name the
	// evaluator there.
	evaluator := request.Evaluator
	if evaluator == "" {
		evaluator = request.Params["evaluator"]
	}
	taskID, err := d.SubmitTask(ctx, task.Profile{
		TaskID:    request.TaskID,
		Type:      request.Type,
		StartTime: request.StartTime,
		Evaluator: task.EvaluatorKind(evaluator),
		Params:    request.Params,
	})
	if err != nil {
		return nil, err
	}
	return SubmitResponse{TaskID: taskID}, nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, raw []byte) (any, error) {
	request, err := service.DecodeRequest[CancelRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.TaskID == "" {
		return nil, errors.New("missing required field: task_id")
	}
	canceled, err := d.CancelTask(ctx, request.TaskID)
	if err != nil {
		return nil, err
	}
	return CancelResponse{TaskID: request.TaskID, Canceled: canceled}, nil
}

func (d *Dispatcher) handleGet(ctx context.Context, raw []byte) (any, error) {
	request, err := service.DecodeRequest[GetRequest](raw)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	var list TaskList
	if len(request.TaskIDs) == 0 {
		for _, current := range d.registry.active {
			list.Active = append(list.Active, current.status.Clone())
		}
		for _, status := range d.registry.terminated {
			list.Terminated = append(list.Terminated, status.Clone())
		}
	} else {
		for _, id := range request.TaskIDs {
			if current, ok := d.registry.active[id]; ok {
				list.Active = append(list.Active, current.status.Clone())
			} else if status, ok := d.registry.terminated[id]; ok {
				list.Terminated = append(list.Terminated, status.Clone())
			} else {
				list.Unknown = append(list.Unknown, id)
			}
		}
	}
	d.mu.Unlock()

	byID := func(a, b task.Status) int { return cmp.Compare(a.TaskID, b.TaskID) }
	slices.SortFunc(list.Active, byID)
	slices.SortFunc(list.Terminated, byID)
	return list, nil
}

func (d *Dispatcher) handleStatusAction(ctx context.Context, raw []byte) (any, error) {
	d.mu.Lock()
	response := StatusResponse{
		Active:     len(d.registry.active),
		Terminated: len(d.registry.terminated),
	}
	d.mu.Unlock()
	response.Evaluator = d.Evaluator()
	response.BidWindow = d.config.BidWindow
	return response, nil
}

func (d *Dispatcher) handleSetEvaluator(ctx context.Context, raw []byte) (any, error) {
	request, err := service.DecodeRequest[EvaluatorRequest](raw)
	if err != nil {
		return nil, err
	}
	kind, ok := task.ParseEvaluatorKind(request.Evaluator)
	if !ok {
		return nil, fmt.Errorf("unknown evaluator %q", request.Evaluator)
	}
	d.SetEvaluator(kind)
	return EvaluatorResponse{Evaluator: d.Evaluator()}, nil
}
