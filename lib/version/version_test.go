// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "false"
	if got := Info(); !strings.Contains(got, "(abc1234, ") {
		t.Errorf("Info() = %q, want commit without dirty marker", got)
	}

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want dirty marker", got)
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Info()) {
		t.Errorf("Full() = %q, want Info() prefix", full)
	}
	if !strings.Contains(full, "Platform: ") {
		t.Errorf("Full() = %q, missing platform line", full)
	}
}

func TestLogAttrsPairs(t *testing.T) {
	attrs := LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("LogAttrs() has %d elements, want key/value pairs", len(attrs))
	}
	if attrs[0] != "version" || attrs[1] != Version {
		t.Errorf("first pair = %v=%v, want version=%s", attrs[0], attrs[1], Version)
	}
}
