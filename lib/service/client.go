// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/bureau-foundation/dispatch/lib/codec"
)

const (
	dialTimeout = 5 * time.Second

	// responseTimeout bounds a call whose context has no earlier
	// deadline. cancel-task waits for a fleet's answer, so it is
	// generous.
	responseTimeout = 45 * time.Second

	maxResponseSize = maxRequestSize
)

// ServiceError is a failure reported by the service itself, as
// opposed to a connection or encoding problem.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient calls actions on a SocketServer. It holds no
// connection: every call dials, sends one request and reads one
// response.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient returns a client for the socket at socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// Call runs action with the given request fields (nil for none) and
// decodes the response data, if any, into result. A failure reported
// by the service is returned as *ServiceError.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	request["action"] = action

	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}
	if result == nil || len(response.Data) == 0 {
		return nil
	}
	if err := codec.Unmarshal(response.Data, result); err != nil {
		return fmt.Errorf("decoding %q result: %w", action, err)
	}
	return nil
}

func (c *ServiceClient) roundTrip(ctx context.Context, request map[string]any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// A canceled ctx interrupts a pending read.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, err)
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
