package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dfaust/backup-monitor/internal/domain"
	"github.com/dfaust/backup-monitor/internal/timeutil"
)

// launchIntent is a decision to start a process, produced by a transition
// and executed by the scheduler.
type launchIntent struct {
	kind   domain.RunKind
	script string
	// action is the post-action label; empty for backup runs.
	action string
}

// activeRun tracks the single in-flight process of a job.
type activeRun struct {
	id        uuid.UUID
	kind      domain.RunKind
	action    string
	startedAt time.Time
}

// Job is one job's state machine. It is mutated exclusively from the
// scheduler's dispatch loop; no method blocks.
type Job struct {
	config domain.JobConfig

	phase   domain.Phase
	overdue bool

	deviceReady bool

	lastBackup  *time.Time
	lastOutcome domain.Outcome
	lastMessage string

	// lastFailure anchors the retry cooldown after a failed run.
	lastFailure *time.Time

	// runNowRequested bypasses the interval check on the next evaluation.
	// It never bypasses the device gate.
	runNowRequested bool

	pendingActions []domain.PostAction

	active *activeRun
}

// NewJob creates the runtime state for a job config first seen at startup
// or on a reload-add.
func NewJob(cfg domain.JobConfig) *Job {
	j := &Job{
		config:      cfg,
		lastBackup:  cfg.LastBackup,
		lastOutcome: domain.OutcomeUnknown,
	}
	if cfg.HasDeviceGate() {
		j.phase = domain.PhaseWaitingForDevice
	} else {
		j.phase = domain.PhaseWaitingForInterval
		j.deviceReady = true
	}
	return j
}

func (j *Job) Name() string {
	return j.config.Name
}

// ApplyConfig adopts a new config for an unchanged job key. Runtime state
// (phase, last backup, in-flight run) is preserved; the new interval,
// reminder, scripts, and target path take effect on the next decision.
func (j *Job) ApplyConfig(cfg domain.JobConfig, now time.Time) {
	pathChanged := j.config.BackupPath != cfg.BackupPath
	j.config = cfg

	if !pathChanged {
		j.recomputeOverdue(now)
		return
	}

	if !cfg.HasDeviceGate() {
		// Device gate removed: immediately ready.
		j.deviceReady = true
		if j.phase == domain.PhaseWaitingForDevice {
			j.phase = domain.PhaseWaitingForInterval
		}
	} else {
		// New or changed target path: readiness is unknown until the
		// watcher reports, so gate again unless a run is in flight.
		j.deviceReady = false
		if j.phase == domain.PhaseWaitingForInterval {
			j.phase = domain.PhaseWaitingForDevice
		}
	}
	j.recomputeOverdue(now)
}

// HandleReadiness applies a readiness transition from the device monitor.
// A not-ready report never interrupts an in-flight process; the job only
// returns to WaitingForDevice after completion.
func (j *Job) HandleReadiness(ready bool, now time.Time) {
	j.deviceReady = ready

	switch j.phase {
	case domain.PhaseWaitingForDevice:
		if ready {
			j.phase = domain.PhaseWaitingForInterval
		}
	case domain.PhaseWaitingForInterval:
		if !ready {
			j.phase = domain.PhaseWaitingForDevice
		}
	case domain.PhaseRunning, domain.PhaseAwaitingPostAction:
		// Deferred until the active process completes or the pending
		// actions resolve.
	}
	j.recomputeOverdue(now)
}

// RequestRunNow marks a manual run request. A no-op while a process is
// active.
func (j *Job) RequestRunNow() {
	if j.active != nil {
		return
	}
	j.runNowRequested = true
	// A manual run also resolves an unattended post-action offer.
	if j.phase == domain.PhaseAwaitingPostAction {
		j.dismissPending()
	}
}

// due returns when the job next becomes eligible to run. A job that never
// ran is eligible immediately; a failed run defers the next attempt by the
// retry cooldown.
func (j *Job) due(now time.Time, retryCooldown time.Duration) time.Time {
	var due time.Time
	if j.lastBackup == nil {
		due = now
	} else {
		due = j.lastBackup.Add(j.config.Interval)
	}

	if j.lastFailure != nil && (j.lastBackup == nil || j.lastFailure.After(*j.lastBackup)) {
		if retryAt := j.lastFailure.Add(retryCooldown); retryAt.After(due) {
			due = retryAt
		}
	}
	return due
}

// Evaluate decides whether the job transitions into Running now. It
// returns a backup launch intent, or nil. Called on ticks and after any
// event that could unblock the job.
func (j *Job) Evaluate(now time.Time, retryCooldown time.Duration) *launchIntent {
	j.recomputeOverdue(now)

	// An unattended post-action offer expires once the next run is due.
	if j.phase == domain.PhaseAwaitingPostAction && j.active == nil && !j.due(now, retryCooldown).After(now) {
		j.dismissPending()
	}

	if j.phase != domain.PhaseWaitingForInterval || j.active != nil {
		return nil
	}
	if !j.deviceReady {
		return nil
	}
	if !j.runNowRequested && j.due(now, retryCooldown).After(now) {
		return nil
	}

	return &launchIntent{
		kind:   domain.RunKindBackup,
		script: j.config.BackupScript,
	}
}

// RunStarted records the launched process handle and enters Running.
func (j *Job) RunStarted(id uuid.UUID, intent *launchIntent, now time.Time) {
	j.active = &activeRun{
		id:        id,
		kind:      intent.kind,
		action:    intent.action,
		startedAt: now,
	}
	j.runNowRequested = false
	if intent.kind == domain.RunKindBackup {
		j.phase = domain.PhaseRunning
	}
}

// completionResult tells the scheduler what side effects a completion
// produced.
type completionResult struct {
	// persist is set when a new last-backup timestamp must be durably
	// recorded.
	persist bool
	// offerActions lists post-action labels to present to the user.
	offerActions []string

	record domain.RunRecord
}

// HandleCompletion applies a process completion. Completions whose run ID
// does not match the active handle are stale (for example, from an
// instance of this job that was removed and re-added by a reload) and are
// ignored.
func (j *Job) HandleCompletion(ev domain.ProcessCompleted, now time.Time) (completionResult, bool) {
	if j.active == nil || j.active.id != ev.RunID {
		return completionResult{}, false
	}

	run := *j.active
	j.active = nil

	result := completionResult{
		record: domain.RunRecord{
			ID:         ev.RunID,
			Job:        j.config.Name,
			Kind:       run.kind,
			Action:     run.action,
			StartedAt:  ev.StartedAt,
			FinishedAt: ev.FinishedAt,
			ExitCode:   ev.ExitCode,
			Output:     ev.Output,
			Error:      ev.Err,
			Outcome:    domain.OutcomeFailure,
		},
	}
	if ev.Succeeded() {
		result.record.Outcome = domain.OutcomeSuccess
	}

	switch run.kind {
	case domain.RunKindBackup:
		j.applyBackupCompletion(ev, &result, now)
	case domain.RunKindPostAction:
		// Post-action completion returns to the schedule regardless of
		// its own exit status.
		j.settle()
	}

	j.recomputeOverdue(now)
	return result, true
}

func (j *Job) applyBackupCompletion(ev domain.ProcessCompleted, result *completionResult, now time.Time) {
	if !ev.Succeeded() {
		j.lastOutcome = domain.OutcomeFailure
		t := now
		j.lastFailure = &t
		if ev.Err != "" {
			j.lastMessage = fmt.Sprintf("failed: %s", ev.Err)
		} else {
			j.lastMessage = fmt.Sprintf("failed with exit code %d", ev.ExitCode)
		}
		j.settle()
		return
	}

	finished := ev.FinishedAt
	j.lastBackup = &finished
	j.lastOutcome = domain.OutcomeSuccess
	j.lastFailure = nil
	elapsed, _ := timeutil.Round(ev.FinishedAt.Sub(ev.StartedAt), timeutil.AccuracySeconds, timeutil.DirectionDown)
	j.lastMessage = fmt.Sprintf("took %s", timeutil.FormatDuration(elapsed))
	result.persist = true

	if len(j.config.PostBackupActions) > 0 {
		j.phase = domain.PhaseAwaitingPostAction
		j.pendingActions = append([]domain.PostAction(nil), j.config.PostBackupActions...)
		for _, action := range j.pendingActions {
			result.offerActions = append(result.offerActions, action.Label)
		}
		return
	}

	j.settle()
}

// ExecutePostAction selects a pending action by index and returns its
// launch intent. Selecting clears the pending list; the job stays in
// AwaitingPostAction until the action's process completes.
func (j *Job) ExecutePostAction(index int) (*launchIntent, error) {
	if j.phase != domain.PhaseAwaitingPostAction || j.active != nil {
		return nil, fmt.Errorf("job %s: no pending post-backup actions", j.config.Name)
	}
	if index < 0 || index >= len(j.pendingActions) {
		return nil, fmt.Errorf("job %s: post-backup action index %d out of range", j.config.Name, index)
	}

	action := j.pendingActions[index]
	j.pendingActions = nil

	return &launchIntent{
		kind:   domain.RunKindPostAction,
		script: action.Script,
		action: action.Label,
	}, nil
}

// DismissPostActions declines all pending actions.
func (j *Job) DismissPostActions() {
	if j.phase != domain.PhaseAwaitingPostAction || j.active != nil {
		return
	}
	j.dismissPending()
}

func (j *Job) dismissPending() {
	j.pendingActions = nil
	j.settle()
}

// settle moves an idle job to the waiting phase matching device readiness.
func (j *Job) settle() {
	j.pendingActions = nil
	if j.deviceReady || !j.config.HasDeviceGate() {
		j.phase = domain.PhaseWaitingForInterval
	} else {
		j.phase = domain.PhaseWaitingForDevice
	}
}

// recomputeOverdue derives the overdue flag: set once the reminder
// duration past the due time has elapsed, or immediately for a job that
// never ran. Only meaningful when a reminder is configured; cleared by the
// next successful backup.
func (j *Job) recomputeOverdue(now time.Time) {
	if j.config.Reminder <= 0 {
		j.overdue = false
		return
	}
	if j.lastBackup == nil {
		j.overdue = true
		return
	}
	j.overdue = !now.Before(j.lastBackup.Add(j.config.Interval + j.config.Reminder))
}

// Running reports whether the job has an active process.
func (j *Job) Running() bool {
	return j.active != nil
}

// Status projects the job's current state for the presenter.
func (j *Job) Status(now time.Time, retryCooldown time.Duration) domain.JobStatus {
	status := domain.JobStatus{
		Name:        j.config.Name,
		IconName:    j.config.IconName,
		Phase:       j.phase,
		Overdue:     j.overdue,
		DeviceReady: j.deviceReady,
		LastBackup:  j.lastBackup,
		LastOutcome: j.lastOutcome,
		LastMessage: j.lastMessage,
	}

	if j.phase == domain.PhaseWaitingForInterval && j.active == nil {
		due := j.due(now, retryCooldown)
		if due.Before(now) {
			due = now
		}
		status.NextDue = &due
	}

	for _, action := range j.pendingActions {
		status.PendingActions = append(status.PendingActions, action.Label)
	}

	return status
}
