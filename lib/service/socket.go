// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/dispatch/lib/codec"
)

// ActionFunc handles one action. raw is the whole CBOR request, action
// field included; handlers decode their own fields with DecodeRequest.
// A non-nil result is CBOR-encoded into the response's data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the reply envelope for every action.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	// requestReadTimeout bounds how long a connected client may take to
	// send its request.
	requestReadTimeout = 30 * time.Second

	responseWriteTimeout = 10 * time.Second

	maxRequestSize = 1 << 20
)

// SocketServer answers one CBOR request per Unix socket connection.
// Register every action with Handle, then call Serve.
type SocketServer struct {
	socketPath string
	logger     *slog.Logger
	handlers   map[string]ActionFunc
	serving    atomic.Bool
	ready      chan struct{}
	inflight   sync.WaitGroup
}

// NewSocketServer returns a server for socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		socketPath: socketPath,
		logger:     logger.With("socket", socketPath),
		handlers:   make(map[string]ActionFunc),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once Serve is accepting connections.
func (s *SocketServer) Ready() <-chan struct{} { return s.ready }

// Actions returns the registered action names, sorted.
func (s *SocketServer) Actions() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// Handle registers handler for action. Registering an action twice, or
// after Serve has started, is a programming error and panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if s.serving.Load() {
		panic(fmt.Sprintf("service: Handle(%q) after Serve", action))
	}
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve listens on the socket until ctx is done, then waits for
// in-flight requests before returning. A stale socket file is replaced,
// and the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	s.serving.Store(true)

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	stopped := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopped()

	s.logger.Info("service socket listening", "actions", len(s.handlers))
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer conn.Close()
			s.respond(conn, s.serveRequest(ctx, conn))
		}()
	}
	listener.Close()
	s.inflight.Wait()
	return nil
}

// serveRequest reads one request from conn and runs its action. A nil
// Response means the client sent nothing and gets no reply.
func (s *SocketServer) serveRequest(ctx context.Context, conn net.Conn) *Response {
	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return failure(fmt.Sprintf("invalid request: %v", err))
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return failure(fmt.Sprintf("invalid request: %v", err))
	}
	if header.Action == "" {
		return failure("missing required field: action")
	}
	handler, ok := s.handlers[header.Action]
	if !ok {
		return failure(fmt.Sprintf("unknown action %q", header.Action))
	}

	started := time.Now()
	result, err := s.invoke(ctx, handler, header.Action, raw)
	logger := s.logger.With("action", header.Action, "elapsed", time.Since(started))
	if err != nil {
		logger.Debug("action failed", "error", err)
		return failure(err.Error())
	}
	logger.Debug("action served")

	response := &Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			return failure(fmt.Sprintf("internal: encoding result: %v", err))
		}
		response.Data = data
	}
	return response
}

// invoke runs handler, converting a panic into an error.
func (s *SocketServer) invoke(ctx context.Context, handler ActionFunc, action string, raw []byte) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("action handler panicked", "action", action, "panic", recovered)
			result, err = nil, fmt.Errorf("internal error handling %q", action)
		}
	}()
	return handler(ctx, raw)
}

func failure(message string) *Response {
	return &Response{Error: message}
}

// respond writes response to conn. Write errors only reach the debug
// log: the connection is closing either way.
func (s *SocketServer) respond(conn net.Conn, response *Response) {
	if response == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}
