// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entry-point helpers for dispatch binaries.
// Fatal is the one sanctioned raw write to stderr, used by main()
// when run() fails before or after the structured logger exists.
package process
