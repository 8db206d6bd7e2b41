// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dispatchctl submits, inspects and cancels tasks on a running
// dispatcher through its service socket.
package main

import (
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/dispatch/lib/process"
)

func main() {
	styled := term.IsTerminal(int(os.Stdout.Fd()))
	if err := newRootCommand(os.Stdout, styled).Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
