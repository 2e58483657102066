package api

import (
	"fmt"
	"time"

	"github.com/dfaust/backup-monitor/internal/domain"
)

var (
	errInvalidLimit  = fmt.Errorf("limit must be a non-negative integer")
	errLimitTooLarge = fmt.Errorf("limit exceeds maximum of %d", MaxRunLimit)
)

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Jobs      []domain.JobStatus     `json:"jobs"`
	Aggregate domain.AggregateStatus `json:"aggregate"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Job        string `json:"job"`
	Kind       string `json:"kind"`
	Action     string `json:"action,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Outcome    string `json:"outcome"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type AcceptedResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run domain.RunRecord) RunResponse {
	return RunResponse{
		ID:         run.ID.String(),
		Job:        run.Job,
		Kind:       string(run.Kind),
		Action:     run.Action,
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
		ExitCode:   run.ExitCode,
		Output:     run.Output,
		Error:      run.Error,
		Outcome:    string(run.Outcome),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
