// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration shared by every
// dispatch protocol: bidding messages, action requests and status
// updates, hub frames, and service socket calls.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical message always produces the same bytes. The transport
// relies on this: envelope identifiers are hashes over encoded
// payloads, and a redelivered message must hash identically.
//
// Timestamps encode as RFC 3339 text with nanoseconds. The library
// default (integer Unix seconds) would truncate status timestamps and
// bid finish-time estimates.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream users (hub connections, service sockets) use NewEncoder and
// NewDecoder; CBOR is self-delimiting so no extra framing is needed.
//
// Types carried only between dispatch processes use `cbor` struct
// tags. Types that also appear in CLI JSON output use `json` tags,
// which fxamacker/cbor reads as a fallback.
package codec
