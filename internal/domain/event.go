package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is the tagged variant carried on the scheduler's single inbound
// queue. All state mutation is serialized through events of this type.
type Event interface {
	// Kind returns a stable, low-cardinality tag used for logging and
	// metrics labels.
	Kind() string
}

// Tick is the coarse periodic wakeup used to re-evaluate interval and
// overdue conditions.
type Tick struct {
	Now time.Time
}

func (Tick) Kind() string { return "tick" }

// ReadinessChanged reports a device readiness transition for one job.
type ReadinessChanged struct {
	Job   string
	Ready bool
}

func (ReadinessChanged) Kind() string { return "readiness_changed" }

// ProcessCompleted is produced by the process runner exactly once per launch.
type ProcessCompleted struct {
	Job     string
	RunID   uuid.UUID
	RunKind RunKind

	ExitCode int
	Output   string
	// Err is set when the process could not be spawned at all; treated
	// identically to a nonzero exit.
	Err string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the process ran and exited zero.
func (e ProcessCompleted) Succeeded() bool {
	return e.Err == "" && e.ExitCode == 0
}

func (ProcessCompleted) Kind() string { return "process_completed" }

// RunNow is the user command forcing an immediate run attempt, bypassing
// the interval check but never the device gate.
type RunNow struct {
	Job string
}

func (RunNow) Kind() string { return "run_now" }

// ExecutePostAction is the user command selecting one pending post-backup
// action by index.
type ExecutePostAction struct {
	Job   string
	Index int
}

func (ExecutePostAction) Kind() string { return "execute_post_action" }

// DismissPostActions is the user command declining all pending post-backup
// actions.
type DismissPostActions struct {
	Job string
}

func (DismissPostActions) Kind() string { return "dismiss_post_actions" }

// ReloadRequested asks the scheduler to re-read the settings file.
type ReloadRequested struct{}

func (ReloadRequested) Kind() string { return "reload_requested" }
