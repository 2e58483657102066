package domain

import "time"

// Phase is a job's lifecycle phase. The overdue flag is orthogonal and can
// co-occur with the waiting phases.
type Phase string

const (
	PhaseWaitingForDevice   Phase = "waiting_for_device"
	PhaseWaitingForInterval Phase = "waiting_for_interval"
	PhaseRunning            Phase = "running"
	PhaseAwaitingPostAction Phase = "awaiting_post_action"
)

// Outcome is the result of a job's most recent backup run.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// JobStatus is the per-job record published to the presenter.
type JobStatus struct {
	Name     string `json:"name"`
	IconName string `json:"icon_name,omitempty"`

	Phase       Phase `json:"phase"`
	Overdue     bool  `json:"overdue"`
	DeviceReady bool  `json:"device_ready"`

	LastBackup  *time.Time `json:"last_backup,omitempty"`
	LastOutcome Outcome    `json:"last_outcome"`
	// LastMessage is a short human-readable note about the last outcome,
	// for example the failing exit code.
	LastMessage string `json:"last_message,omitempty"`

	// NextDue is the estimated next eligible run time. Nil while running
	// or waiting for a device.
	NextDue *time.Time `json:"next_due,omitempty"`

	PendingActions []string `json:"pending_actions,omitempty"`
}

// AggregateStatus is a projection across all jobs, recomputed on every
// relevant event and never stored authoritatively.
type AggregateStatus struct {
	// NextDue is the earliest next due time across all jobs.
	NextDue *time.Time `json:"next_due,omitempty"`

	AnyOverdue       bool `json:"any_overdue"`
	AnyWaitingDevice bool `json:"any_waiting_device"`
	AnyRunning       bool `json:"any_running"`

	// Degraded is set when a persistence write has failed since startup;
	// in-memory state remains authoritative.
	Degraded bool `json:"degraded,omitempty"`

	// Summary is a short human-readable line for tray tooltips and the
	// status endpoint.
	Summary string `json:"summary"`
}
