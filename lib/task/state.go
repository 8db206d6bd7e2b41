// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import "fmt"

// State is a task's position in its lifecycle.
type State uint8

const (
	// Queued means a fleet accepted the task but has not started it.
	// A freshly tracked task also holds Queued before its first
	// acknowledgment.
	Queued State = iota
	// Executing means the fleet has started the task.
	Executing
	// Completed means the task finished successfully. It is terminal.
	Completed
	// Canceled means the task was stopped on request. It is terminal.
	Canceled
	// Failed means the task could not be allocated or did not finish.
	// It is terminal.
	Failed
)

var stateNames = [...]string{
	Queued:    "queued",
	Executing: "executing",
	Completed: "completed",
	Canceled:  "canceled",
	Failed:    "failed",
}

// String returns the lower-case state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// IsTerminal reports whether no further transitions are permitted.
func (s State) IsTerminal() bool {
	return s == Completed || s == Canceled || s == Failed
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("task: cannot marshal unknown state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the State with the given name.
func ParseState(name string) (State, error) {
	for index, candidate := range stateNames {
		if candidate == name {
			return State(index), nil
		}
	}
	return 0, fmt.Errorf("task: unknown state %q", name)
}

// Transition validates a move from one state to another.
func Transition(from, to State) error {
	if int(to) >= len(stateNames) {
		return fmt.Errorf("%w: unknown target state %d", ErrInvalidTransition, uint8(to))
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, from, to)
	}
	if from == Executing && to == Queued {
		return fmt.Errorf("%w: %s cannot return to %s", ErrInvalidTransition, from, to)
	}
	return nil
}
