package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunKind string

const (
	RunKindBackup     RunKind = "backup"
	RunKindPostAction RunKind = "post-action"
)

// RunRecord captures one completed script execution for the history store.
type RunRecord struct {
	ID   uuid.UUID
	Job  string
	Kind RunKind

	// Action is the post-action label; empty for backup runs.
	Action string

	StartedAt  time.Time
	FinishedAt time.Time

	ExitCode int
	// Output is the combined stdout/stderr, truncated by the runner.
	Output string
	// Error is the spawn error message, if the script never started.
	Error string

	Outcome Outcome
}
