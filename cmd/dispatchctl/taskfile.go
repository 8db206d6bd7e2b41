// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/dispatch/dispatcher"
	"github.com/bureau-foundation/dispatch/lib/task"
)

// taskFile is the JSONC task description accepted by submit --file:
//
//	{
//	    // Optional; the dispatcher generates one when empty.
//	    "task_id": "delivery-42",
//	    "type": "delivery",
//	    "evaluator": "quickest-finish",
//	    "params": {"pickup": "dock_2", "dropoff": "ward_5"},
//	}
type taskFile struct {
	TaskID    string            `json:"task_id"`
	Type      task.Type         `json:"type"`
	StartTime string            `json:"start_time"`
	Evaluator string            `json:"evaluator"`
	Params    map[string]string `json:"params"`
}

// readTaskFile parses the JSONC task description at path.
func readTaskFile(path string) (taskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return taskFile{}, err
	}
	return parseTaskFile(path, data)
}

func parseTaskFile(name string, data []byte) (taskFile, error) {
	var description taskFile
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&description); err != nil {
		return taskFile{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	return description, nil
}

// merge overlays the non-empty fields of override onto f. Params are
// merged key by key.
func (f taskFile) merge(override taskFile) taskFile {
	if override.TaskID != "" {
		f.TaskID = override.TaskID
	}
	if override.Type != "" {
		f.Type = override.Type
	}
	if override.StartTime != "" {
		f.StartTime = override.StartTime
	}
	if override.Evaluator != "" {
		f.Evaluator = override.Evaluator
	}
	if len(override.Params) > 0 {
		params := maps.Clone(f.Params)
		if params == nil {
			params = make(map[string]string, len(override.Params))
		}
		maps.Copy(params, override.Params)
		f.Params = params
	}
	return f
}

// request validates f and converts it into a submit request.
func (f taskFile) request() (dispatcher.SubmitRequest, error) {
	if f.Type == "" {
		return dispatcher.SubmitRequest{}, errors.New("task type is required (--type or \"type\" in --file)")
	}
	request := dispatcher.SubmitRequest{
		TaskID:    f.TaskID,
		Type:      f.Type,
		Evaluator: f.Evaluator,
		Params:    f.Params,
	}
	if f.StartTime != "" {
		start, err := time.Parse(time.RFC3339, f.StartTime)
		if err != nil {
			return dispatcher.SubmitRequest{}, fmt.Errorf("start time: %w", err)
		}
		request.StartTime = start
	}
	return request, nil
}

// submitFields flattens a submit request into service call fields.
func submitFields(request dispatcher.SubmitRequest) map[string]any {
	fields := map[string]any{"type": string(request.Type)}
	if request.TaskID != "" {
		fields["task_id"] = request.TaskID
	}
	if !request.StartTime.IsZero() {
		fields["start_time"] = request.StartTime
	}
	if request.Evaluator != "" {
		fields["evaluator"] = request.Evaluator
	}
	if len(request.Params) > 0 {
		fields["params"] = request.Params
	}
	return fields
}
