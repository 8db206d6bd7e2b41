// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/dispatch/lib/task"
)

func TestParseTaskFileAcceptsComments(t *testing.T) {
	data := []byte(`{
		// Picked up by whichever fleet finishes first.
		"task_id": "delivery-42",
		"type": "delivery",
		"evaluator": "quickest-finish", /* inline */
		"start_time": "2026-03-01T12:00:00Z",
		"params": {"pickup": "dock_2", "dropoff": "ward_5",},
	}`)

	description, err := parseTaskFile("task.jsonc", data)
	if err != nil {
		t.Fatalf("parseTaskFile: %v", err)
	}
	request, err := description.request()
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if request.TaskID != "delivery-42" || request.Type != task.Delivery || request.Evaluator != "quickest-finish" {
		t.Errorf("request = %+v", request)
	}
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !request.StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", request.StartTime, want)
	}
	if request.Params["pickup"] != "dock_2" || request.Params["dropoff"] != "ward_5" {
		t.Errorf("Params = %v", request.Params)
	}
}

func TestParseTaskFileRejectsUnknownFields(t *testing.T) {
	if _, err := parseTaskFile("task.jsonc", []byte(`{"type": "loop", "priority": 3}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	file := taskFile{
		TaskID: "from-file",
		Type:   task.Clean,
		Params: map[string]string{"zone": "a", "mode": "wet"},
	}
	merged := file.merge(taskFile{
		Type:   task.Patrol,
		Params: map[string]string{"zone": "b"},
	})

	if merged.TaskID != "from-file" {
		t.Errorf("TaskID = %q, want from-file", merged.TaskID)
	}
	if merged.Type != task.Patrol {
		t.Errorf("Type = %q, want patrol", merged.Type)
	}
	if merged.Params["zone"] != "b" || merged.Params["mode"] != "wet" {
		t.Errorf("Params = %v, want zone=b mode=wet", merged.Params)
	}
	if file.Params["zone"] != "a" {
		t.Error("merge modified the file's params")
	}
}

func TestTaskFileRequestValidation(t *testing.T) {
	tests := []struct {
		name        string
		description taskFile
	}{
		{"missing type", taskFile{TaskID: "t1"}},
		{"bad start time", taskFile{Type: task.Loop, StartTime: "tomorrow"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := test.description.request(); err == nil {
				t.Error("request succeeded, want error")
			}
		})
	}
}

func TestTaskFileRequestAcceptsAnyType(t *testing.T) {
	for _, taskType := range []task.Type{"Station", "teleport"} {
		request, err := taskFile{Type: taskType}.request()
		if err != nil {
			t.Fatalf("%q: request: %v", taskType, err)
		}
		if request.Type != taskType {
			t.Errorf("Type = %q, want %q", request.Type, taskType)
		}
	}
}

func TestReadTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.jsonc")
	if err := os.WriteFile(path, []byte(`{"type": "station"} // trailing`), 0644); err != nil {
		t.Fatal(err)
	}
	description, err := readTaskFile(path)
	if err != nil {
		t.Fatalf("readTaskFile: %v", err)
	}
	if description.Type != task.Station {
		t.Errorf("Type = %q, want station", description.Type)
	}

	if _, err := readTaskFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("readTaskFile on a missing file succeeded")
	}
}

func TestSubmitFieldsOmitsEmpty(t *testing.T) {
	request, err := taskFile{Type: task.Charging}.request()
	if err != nil {
		t.Fatal(err)
	}
	fields := submitFields(request)
	if len(fields) != 1 || fields["type"] != "charging" {
		t.Errorf("fields = %v, want only type", fields)
	}
}
