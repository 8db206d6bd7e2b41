// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by dispatch package tests.
//
// RequireReceive and RequireClosed wrap the select-with-timeout safety
// valve so that a broken test fails instead of hanging. They are the
// only place tests touch the wall clock; everything under test runs on
// a clock.FakeClock.
//
// SocketDir returns a short /tmp directory for Unix sockets, whose
// paths are limited to 108 bytes.
package testutil
