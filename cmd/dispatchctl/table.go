// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/dispatch/lib/task"
)

var taskColumns = []string{"TASK", "TYPE", "STATE", "FLEET", "ROBOT", "UPDATED"}

const stateColumn = 2

var (
	headerStyle = lipgloss.NewStyle().Bold(true)

	stateStyles = map[task.State]lipgloss.Style{
		task.Queued:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		task.Executing: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		task.Completed: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		task.Canceled:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		task.Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

// taskRow is one rendered line of the task table.
type taskRow struct {
	state task.State
	cells []string
}

func newTaskRow(status task.Status) taskRow {
	updated := "-"
	if !status.UpdatedAt.IsZero() {
		updated = status.UpdatedAt.Local().Format(time.DateTime)
	}
	return taskRow{
		state: status.State,
		cells: []string{
			status.TaskID,
			string(status.Type),
			status.State.String(),
			orDash(status.FleetName),
			orDash(status.RobotName),
			updated,
		},
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

// renderTasks writes statuses as a table. Styled output colors the
// state column and is meant for terminals only.
func renderTasks(w io.Writer, statuses []task.Status, styled bool) error {
	rows := make([]taskRow, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, newTaskRow(status))
	}
	if styled {
		return renderStyled(w, rows)
	}

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(taskColumns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row.cells, "\t"))
	}
	return tw.Flush()
}

func renderStyled(w io.Writer, rows []taskRow) error {
	widths := make([]int, len(taskColumns))
	for i, column := range taskColumns {
		widths[i] = lipgloss.Width(column)
	}
	for _, row := range rows {
		for i, cell := range row.cells {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var out strings.Builder
	for i, column := range taskColumns {
		out.WriteString(headerStyle.Width(widths[i] + 2).Render(column))
	}
	out.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row.cells {
			style := lipgloss.NewStyle()
			if i == stateColumn {
				style = stateStyles[row.state]
			}
			out.WriteString(style.Width(widths[i] + 2).Render(cell))
		}
		out.WriteString("\n")
	}
	_, err := io.WriteString(w, out.String())
	return err
}
