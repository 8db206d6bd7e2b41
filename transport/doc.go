// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries dispatch broadcast traffic between the
// dispatcher, the fleets that bid on tasks, and the action servers
// that execute them.
//
// Every message is published to a named topic (see the Topic
// constants) and delivered to every subscriber of that topic.
// Addressing by task id or server id happens inside the payloads:
// subscribers filter what they do not care about. Delivery is
// best-effort and at-least-once. The one ordering promise is per
// subscription: a subscriber sees messages in the order they were
// published, one at a time, on a goroutine dedicated to that
// subscription. Protocols above rely on this for per-task status
// ordering.
//
// Two [Bus] implementations exist:
//
//   - [MemoryBus] connects components inside one process. Tests use
//     its [Filter] hook to drop or duplicate messages and WaitIdle to
//     settle all deliveries before asserting.
//   - [HubBus] connects to a [Hub], a broker serving a Unix socket.
//     Each client keeps one connection carrying a CBOR stream of
//     frames. Publishes are wrapped in an [Envelope] with a BLAKE3
//     identifier so receivers drop redeliveries, and payloads above a
//     size threshold are compressed with LZ4 or zstd.
package transport
