// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for dispatch
// binaries.
//
// Configuration is loaded from a single file specified by either the
// DISPATCH_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file has one section per component (dispatcher, hub, fleet) and
// may carry environment-specific sections (development, staging,
// production) that override base values when [Config].Environment
// matches. Production without an explicit section caps the number of
// retained terminated tasks.
//
// Durations are Go duration strings ("2s", "1m30s"). Socket paths
// accept ${VAR} and ${VAR:-default}.
//
//	environment: production
//	dispatcher:
//	  bid_window: 2s
//	  default_evaluator: quickest-finish
//	  socket_path: ${XDG_RUNTIME_DIR:-/run}/dispatch/dispatcher.sock
//	hub:
//	  compression: zstd
//	fleet:
//	  name: tinyRobot
//	  bid_base_cost: 30
//	  task_durations:
//	    delivery: 10m
//	    clean: 45m
package config
