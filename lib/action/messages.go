// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"github.com/bureau-foundation/dispatch/lib/task"
)

// Method is the operation a Request asks for.
type Method string

const (
	MethodAdd    Method = "add"
	MethodCancel Method = "cancel"
)

// Request asks one server to add or cancel a task.
type Request struct {
	Method    Method       `cbor:"method"`
	ServerID  string       `cbor:"server_id"`
	RequestID string       `cbor:"request_id"`
	Profile   task.Profile `cbor:"profile"`
}

// Response acknowledges a Request.
type Response struct {
	ServerID  string `cbor:"server_id"`
	RequestID string `cbor:"request_id"`
	TaskID    string `cbor:"task_id"`
	Method    Method `cbor:"method"`
	Success   bool   `cbor:"success"`
}

// StatusUpdate reports one task's status from the server executing it.
type StatusUpdate struct {
	ServerID string      `cbor:"server_id"`
	Status   task.Status `cbor:"status"`
}
