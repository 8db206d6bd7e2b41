// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the dispatch binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X. Development builds and test runs see the defaults
// ("unknown" and "0.1.0-dev").
//
// [Info] is the --version line. [Full] appends the Go toolchain and
// platform, which is what the daemons log at startup.
package version
