// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the dispatchctl command tree. A node either
// groups Subcommands or does the work in Run.
type Command struct {
	Name    string
	Summary string

	// Description replaces Summary at the top of the command's own
	// help.
	Description string

	// Usage overrides the synthesized usage line.
	Usage string

	Examples []Example

	// Flags builds the command's flag set. It is called once per parse
	// so the bound variables start from their defaults each time.
	Flags func() *pflag.FlagSet

	Subcommands []*Command
	Run         func(args []string) error

	parent *Command
}

// Example is one entry of a command's help examples.
type Example struct {
	Description string
	Command     string
}

// Execute runs the command selected by args.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}
	if len(c.Subcommands) > 0 {
		return c.dispatch(args)
	}
	return c.run(args)
}

// dispatch hands args to the subcommand they name.
func (c *Command) dispatch(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		if c.Run != nil {
			return c.run(args)
		}
		c.PrintHelp(os.Stderr)
		if len(args) == 0 {
			return errors.New("subcommand required")
		}
		return fmt.Errorf("subcommand required (got flag %q)", args[0])
	}

	name := args[0]
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(args[1:])
		}
	}
	if c.Run != nil {
		return c.run(args)
	}
	hint := ""
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		hint = fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	return fmt.Errorf("unknown command %q%s\n\nRun '%s --help' for usage.", name, hint, c.path())
}

// run parses flags and calls Run with the positional arguments.
func (c *Command) run(args []string) error {
	if c.Flags != nil {
		flags := c.Flags()
		flags.SetOutput(io.Discard)
		if err := flags.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				c.PrintHelp(os.Stderr)
				return nil
			}
			hint := ""
			if strings.Contains(err.Error(), "unknown flag") {
				if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
					hint = fmt.Sprintf(" (did you mean %s?)", suggestion)
				}
			}
			return fmt.Errorf("%v%s\n\nRun '%s --help' for usage.", err, hint, c.path())
		}
		args = flags.Args()
	}
	if c.Run == nil {
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("no action defined for %q", c.path())
	}
	return c.Run(args)
}

// PrintHelp writes the command's help to w.
func (c *Command) PrintHelp(w io.Writer) {
	headline := c.Description
	if headline == "" {
		headline = c.Summary
	}
	if headline != "" {
		fmt.Fprintf(w, "%s\n\n", headline)
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", c.usageLine())

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		if usages := c.Flags().FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", c.path())
	}
}

func (c *Command) usageLine() string {
	switch {
	case c.Usage != "":
		return c.Usage
	case len(c.Subcommands) > 0:
		return c.path() + " <command> [flags]"
	default:
		return c.path() + " [flags]"
	}
}

// path is the command's full invocation, e.g. "dispatchctl submit".
func (c *Command) path() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.path() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
