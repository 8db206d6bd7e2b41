// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dispatch/dispatcher"
	"github.com/bureau-foundation/dispatch/lib/service"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/lib/version"
)

const (
	// SocketEnvironmentVariable overrides the default --socket.
	SocketEnvironmentVariable = "DISPATCH_SOCKET"

	defaultSocketPath = "/run/dispatch/dispatcher.sock"
	defaultTimeout    = 30 * time.Second
)

// app holds state shared by every subcommand.
type app struct {
	out    io.Writer
	styled bool

	socketPath string
	timeout    time.Duration
	jsonOutput bool
}

func newRootCommand(out io.Writer, styled bool) *Command {
	a := &app{out: out, styled: styled}
	return &Command{
		Name:    "dispatchctl",
		Summary: "Submit and manage dispatcher tasks",
		Description: "dispatchctl talks to a running dispatcher over its service socket.\n" +
			"The socket defaults to $" + SocketEnvironmentVariable + " or " + defaultSocketPath + ".",
		Subcommands: []*Command{
			a.submitCommand(),
			a.cancelCommand(),
			a.listCommand(),
			a.statusCommand(),
			a.setEvaluatorCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					_, err := fmt.Fprintf(out, "dispatchctl %s\n", version.Info())
					return err
				},
			},
		},
	}
}

// flagSet returns a flag set carrying the connection flags every
// subcommand accepts.
func (a *app) flagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	socketPath := os.Getenv(SocketEnvironmentVariable)
	if socketPath == "" {
		socketPath = defaultSocketPath
	}
	flags.StringVar(&a.socketPath, "socket", socketPath, "dispatcher service socket")
	flags.DurationVar(&a.timeout, "timeout", defaultTimeout, "how long to wait for the dispatcher")
	flags.BoolVar(&a.jsonOutput, "json", false, "output as JSON")
	return flags
}

func (a *app) call(action string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return service.NewServiceClient(a.socketPath).Call(ctx, action, fields, result)
}

func (a *app) writeJSON(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *app) submitCommand() *Command {
	var (
		path      string
		overrides taskFile
	)
	return &Command{
		Name:    "submit",
		Summary: "Submit a task for auction",
		Description: "Submit a task for auction among the connected fleets. The task is\n" +
			"described by --file (JSONC), by flags, or both; flags override the file.",
		Usage: "dispatchctl submit [--file task.jsonc] [--type TYPE] [flags]",
		Examples: []Example{
			{Description: "Submit a delivery", Command: "dispatchctl submit --type delivery --param pickup=dock_2 --param dropoff=ward_5"},
			{Description: "Submit from a file, picking the fastest fleet", Command: "dispatchctl submit --file task.jsonc --evaluator quickest-finish"},
		},
		Flags: func() *pflag.FlagSet {
			flags := a.flagSet("submit")
			flags.StringVarP(&path, "file", "f", "", "JSONC task description")
			flags.StringVar(&overrides.TaskID, "id", "", "task id (default: generated)")
			flags.StringVar((*string)(&overrides.Type), "type", "", "task type: station, loop, delivery, charging, clean, patrol")
			flags.StringVar(&overrides.Evaluator, "evaluator", "", "auction strategy: lowest-cost, lowest-delta-cost, quickest-finish")
			flags.StringVar(&overrides.StartTime, "start", "", "earliest start time (RFC 3339)")
			flags.StringToStringVar(&overrides.Params, "param", nil, "task parameter as key=value (repeatable)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			var description taskFile
			if path != "" {
				loaded, err := readTaskFile(path)
				if err != nil {
					return err
				}
				description = loaded
			}
			request, err := description.merge(overrides).request()
			if err != nil {
				return err
			}

			var response dispatcher.SubmitResponse
			if err := a.call(dispatcher.ActionSubmitTask, submitFields(request), &response); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.writeJSON(map[string]string{"task_id": response.TaskID})
			}
			_, err = fmt.Fprintf(a.out, "submitted %s\n", response.TaskID)
			return err
		},
	}
}

func (a *app) cancelCommand() *Command {
	return &Command{
		Name:    "cancel",
		Summary: "Cancel tasks",
		Description: "Cancel tasks by id. A task still in its auction is withdrawn; a task\n" +
			"already handed to a fleet is canceled only if the fleet agrees.",
		Usage: "dispatchctl cancel TASK_ID... [flags]",
		Flags: func() *pflag.FlagSet { return a.flagSet("cancel") },
		Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("at least one task id is required")
			}
			results := make([]dispatcher.CancelResponse, 0, len(args))
			refused := 0
			for _, taskID := range args {
				var response dispatcher.CancelResponse
				if err := a.call(dispatcher.ActionCancelTask, map[string]any{"task_id": taskID}, &response); err != nil {
					return err
				}
				if !response.Canceled {
					refused++
				}
				results = append(results, response)
			}

			if a.jsonOutput {
				output := make([]map[string]any, 0, len(results))
				for _, result := range results {
					output = append(output, map[string]any{"task_id": result.TaskID, "canceled": result.Canceled})
				}
				if err := a.writeJSON(output); err != nil {
					return err
				}
			} else {
				for _, result := range results {
					verdict := "canceled"
					if !result.Canceled {
						verdict = "not canceled"
					}
					fmt.Fprintf(a.out, "%s: %s\n", result.TaskID, verdict)
				}
			}
			if refused > 0 {
				return fmt.Errorf("%d of %d tasks not canceled", refused, len(args))
			}
			return nil
		},
	}
}

// taskListOutput is the --json form of list.
type taskListOutput struct {
	Active     []task.Status `json:"active"`
	Terminated []task.Status `json:"terminated"`
	Unknown    []string      `json:"unknown,omitempty"`
}

func (a *app) listCommand() *Command {
	var (
		activeOnly     bool
		terminatedOnly bool
	)
	return &Command{
		Name:    "list",
		Summary: "Show tasks",
		Description: "Show active and terminated tasks. With task ids, show only those;\n" +
			"ids the dispatcher does not know are reported on stderr.",
		Usage: "dispatchctl list [TASK_ID...] [flags]",
		Flags: func() *pflag.FlagSet {
			flags := a.flagSet("list")
			flags.BoolVar(&activeOnly, "active", false, "show only active tasks")
			flags.BoolVar(&terminatedOnly, "terminated", false, "show only terminated tasks")
			return flags
		},
		Run: func(args []string) error {
			if activeOnly && terminatedOnly {
				return errors.New("--active and --terminated are mutually exclusive")
			}
			fields := map[string]any{}
			if len(args) > 0 {
				fields["task_ids"] = args
			}
			var list dispatcher.TaskList
			if err := a.call(dispatcher.ActionGetTask, fields, &list); err != nil {
				return err
			}
			if activeOnly {
				list.Terminated = nil
			}
			if terminatedOnly {
				list.Active = nil
			}

			if a.jsonOutput {
				return a.writeJSON(taskListOutput{
					Active:     nonNil(list.Active),
					Terminated: nonNil(list.Terminated),
					Unknown:    list.Unknown,
				})
			}

			statuses := append(slices.Clone(list.Active), list.Terminated...)
			slices.SortStableFunc(statuses, func(x, y task.Status) int {
				return cmp.Compare(x.TaskID, y.TaskID)
			})
			if err := renderTasks(a.out, statuses, a.styled); err != nil {
				return err
			}
			for _, taskID := range list.Unknown {
				fmt.Fprintf(os.Stderr, "unknown task: %s\n", taskID)
			}
			return nil
		},
	}
}

func nonNil(statuses []task.Status) []task.Status {
	if statuses == nil {
		return []task.Status{}
	}
	return statuses
}

func (a *app) statusCommand() *Command {
	return &Command{
		Name:    "status",
		Summary: "Show dispatcher status",
		Flags:   func() *pflag.FlagSet { return a.flagSet("status") },
		Run: func(args []string) error {
			var response dispatcher.StatusResponse
			if err := a.call(dispatcher.ActionStatus, nil, &response); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.writeJSON(map[string]any{
					"active":     response.Active,
					"terminated": response.Terminated,
					"evaluator":  response.Evaluator,
					"bid_window": response.BidWindow.String(),
				})
			}
			_, err := fmt.Fprintf(a.out, "active:      %d\nterminated:  %d\nevaluator:   %s\nbid window:  %s\n",
				response.Active, response.Terminated, response.Evaluator, response.BidWindow)
			return err
		},
	}
}

func (a *app) setEvaluatorCommand() *Command {
	return &Command{
		Name:    "set-evaluator",
		Summary: "Change the default auction strategy",
		Description: "Change the strategy used for tasks that do not name one:\n" +
			"lowest-cost, lowest-delta-cost or quickest-finish.",
		Usage: "dispatchctl set-evaluator NAME [flags]",
		Flags: func() *pflag.FlagSet { return a.flagSet("set-evaluator") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one evaluator name is required")
			}
			var response dispatcher.EvaluatorResponse
			if err := a.call(dispatcher.ActionSetEvaluator, map[string]any{"evaluator": args[0]}, &response); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.writeJSON(map[string]any{"evaluator": response.Evaluator})
			}
			_, err := fmt.Fprintf(a.out, "default evaluator: %s\n", response.Evaluator)
			return err
		},
	}
}
