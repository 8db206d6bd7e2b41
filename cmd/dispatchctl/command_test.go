// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandDispatchesToSubcommand(t *testing.T) {
	var called string
	var received []string

	root := &Command{
		Name: "dispatchctl",
		Subcommands: []*Command{
			{Name: "status", Run: func(args []string) error { called = "status"; return nil }},
			{
				Name: "fleet",
				Subcommands: []*Command{
					{Name: "show", Run: func(args []string) error {
						called = "fleet show"
						received = args
						return nil
					}},
				},
			},
		},
	}

	if err := root.Execute([]string{"fleet", "show", "fleet_a"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "fleet show" {
		t.Errorf("dispatched to %q, want %q", called, "fleet show")
	}
	if len(received) != 1 || received[0] != "fleet_a" {
		t.Errorf("args = %v, want [fleet_a]", received)
	}
}

func TestCommandParsesFlags(t *testing.T) {
	var socketPath string
	var positional []string

	command := &Command{
		Name: "list",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.StringVar(&socketPath, "socket", "/default.sock", "socket")
			return flags
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/tmp/d.sock", "task-1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if socketPath != "/tmp/d.sock" {
		t.Errorf("socket = %q, want /tmp/d.sock", socketPath)
	}
	if len(positional) != 1 || positional[0] != "task-1" {
		t.Errorf("args = %v, want [task-1]", positional)
	}
}

func TestCommandSuggestions(t *testing.T) {
	root := &Command{
		Name: "dispatchctl",
		Subcommands: []*Command{
			{Name: "submit", Run: func([]string) error { return nil }},
			{
				Name: "cancel",
				Flags: func() *pflag.FlagSet {
					flags := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
					flags.String("socket", "", "socket")
					return flags
				},
				Run: func([]string) error { return nil },
			},
		},
	}

	err := root.Execute([]string{"sumbit"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "submit"`) {
		t.Errorf("unknown command error = %v, want suggestion for submit", err)
	}

	err = root.Execute([]string{"cancel", "--sokcet", "/x"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --socket") {
		t.Errorf("unknown flag error = %v, want suggestion for --socket", err)
	}

	err = root.Execute([]string{"frobnicate"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("unrelated command error = %v, want no suggestion", err)
	}
}

func TestCommandRequiresSubcommand(t *testing.T) {
	root := &Command{
		Name:        "dispatchctl",
		Subcommands: []*Command{{Name: "status", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil {
		t.Error("Execute with no args succeeded, want subcommand required")
	}
}

func TestPrintHelp(t *testing.T) {
	root := newRootCommand(&bytes.Buffer{}, false)
	var help bytes.Buffer
	root.PrintHelp(&help)
	for _, want := range []string{"submit", "cancel", "list", "status", "set-evaluator"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("root help missing %q:\n%s", want, help.String())
		}
	}

	var submitHelp bytes.Buffer
	for _, sub := range root.Subcommands {
		if sub.Name == "submit" {
			sub.PrintHelp(&submitHelp)
		}
	}
	for _, want := range []string{"--file", "--type", "--param", "--socket", "Examples:"} {
		if !strings.Contains(submitHelp.String(), want) {
			t.Errorf("submit help missing %q:\n%s", want, submitHelp.String())
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "list", 4},
		{"list", "list", 0},
		{"lsit", "list", 2},
		{"cancel", "cancle", 2},
		{"status", "stats", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
