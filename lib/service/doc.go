// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the request-response socket protocol the
// dispatcher exposes to operators.
//
// A [SocketServer] listens on a Unix socket. Each connection carries
// exactly one CBOR request, a map with an "action" field plus
// action-specific fields, and one CBOR [Response]:
//
//	{ok: true, data: <cbor>}
//	{ok: false, error: "message"}
//
// Handlers are registered per action with [SocketServer.Handle] and
// decode their own fields from the raw request, usually with
// [DecodeRequest]. [ServiceClient.Call] is the client side; a failure
// response comes back as a [*ServiceError].
//
// Access control is the socket file's permissions.
package service
