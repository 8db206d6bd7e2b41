// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import "time"

// Status is the live record of one task.
type Status struct {
	Profile `json:"profile"`

	State State `json:"state"`

	// FleetName is the auction winner; empty before award.
	FleetName string `json:"fleet_name,omitempty"`

	// ServerID is the action server executing the task.
	ServerID string `json:"server_id,omitempty"`

	// RobotName is optional executor detail reported by the fleet.
	RobotName string `json:"robot_name,omitempty"`

	// StartedAt and EndedAt are reported by the executor.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// UpdatedAt is when the server issued the latest update.
	UpdatedAt time.Time `json:"updated_at"`

	// Sequence counts server updates for this task, starting at 1.
	// Zero means no update has been observed yet.
	Sequence uint64 `json:"sequence"`
}

// NewStatus returns a Queued status for profile with no updates
// applied.
func NewStatus(profile Profile) Status {
	return Status{Profile: profile.Clone(), State: Queued}
}

// Acknowledged reports whether any server update has been applied.
func (s Status) Acknowledged() bool { return s.Sequence > 0 }

// IsTerminal reports whether the status is in a terminal state.
func (s Status) IsTerminal() bool { return s.State.IsTerminal() }

// Clone returns a deep copy.
func (s Status) Clone() Status {
	s.Profile = s.Profile.Clone()
	return s
}

// Apply validates update against the current state and, if allowed,
// copies its mutable fields. The profile is never replaced: only the
// submitter defines it. On error s is unchanged.
func (s *Status) Apply(update Status) error {
	if err := Transition(s.State, update.State); err != nil {
		return err
	}
	s.State = update.State
	if update.FleetName != "" {
		s.FleetName = update.FleetName
	}
	if update.ServerID != "" {
		s.ServerID = update.ServerID
	}
	if update.RobotName != "" {
		s.RobotName = update.RobotName
	}
	if !update.StartedAt.IsZero() {
		s.StartedAt = update.StartedAt
	}
	if !update.EndedAt.IsZero() {
		s.EndedAt = update.EndedAt
	}
	s.UpdatedAt = update.UpdatedAt
	s.Sequence = update.Sequence
	return nil
}
