// Package monitor contains the per-job state machines and the scheduler
// that multiplexes all external events over them.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dfaust/backup-monitor/internal/domain"
	"github.com/dfaust/backup-monitor/internal/timeutil"
)

// ReminderNotificationInterval rate-limits "backup out of date" reminders.
const ReminderNotificationInterval = 4 * time.Hour

// ConfigSnapshot is one validated settings load.
type ConfigSnapshot struct {
	Jobs          []domain.JobConfig
	RetryCooldown time.Duration
}

// ConfigSource provides validated configuration snapshots. A load error
// rejects the reload in its entirety; the previous snapshot stays active.
type ConfigSource interface {
	LoadSnapshot() (ConfigSnapshot, error)
}

// Launcher starts a script asynchronously and returns its run ID. The
// completion arrives later as a ProcessCompleted event.
type Launcher interface {
	Launch(ctx context.Context, job string, kind domain.RunKind, script string) uuid.UUID
}

// Persister durably records last-backup timestamps. Writes are
// fire-and-forget from the scheduler's perspective.
type Persister interface {
	SaveLastBackup(name string, ts time.Time) error
}

// HistorySink records completed runs. Optional; failures are logged, never
// propagated.
type HistorySink interface {
	RecordRun(ctx context.Context, record domain.RunRecord) error
}

// Presenter consumes published status and user-facing prompts.
type Presenter interface {
	PublishStatus(jobs []domain.JobStatus, aggregate domain.AggregateStatus)
	OfferPostActions(job string, labels []string)
	ShowReminder()
	RunFinished(job string, outcome domain.Outcome, message string)
}

// DeviceMonitor starts readiness watching for one job's target path and
// returns a stop function.
type DeviceMonitor interface {
	Watch(job, path string) (stop func())
}

// MetricsSink records scheduler metrics; all methods must be non-blocking.
type MetricsSink interface {
	EventProcessed(kind string, duration time.Duration)
	JobsOverdueUpdate(count int)
	JobsWaitingDeviceUpdate(count int)
	JobsRunningUpdate(count int)
	RunStarted(kind string)
	RunCompleted(kind string, outcome string, duration time.Duration)
	PersistenceFailure()
}

type Config struct {
	TickInterval time.Duration
}

// Scheduler owns the job state machines and is the single multiplexing
// point for all external events. Dispatch is synchronous and sequential:
// one event is fully processed, including all resulting transitions,
// before the next is taken.
type Scheduler struct {
	config    Config
	source    ConfigSource
	launcher  Launcher
	persister Persister
	devices   DeviceMonitor

	history   HistorySink // optional, nil = disabled
	presenter Presenter   // optional, nil = disabled
	metrics   MetricsSink // optional, nil = disabled

	clock func() time.Time

	jobs     map[string]*Job
	order    []string
	stoppers map[string]func()

	retryCooldown time.Duration

	// degraded is set from persistence goroutines; everything else is
	// owned by the dispatch loop.
	degraded atomic.Bool

	lastReminder *time.Time
}

func New(config Config, source ConfigSource, launcher Launcher, persister Persister, devices DeviceMonitor) *Scheduler {
	return &Scheduler{
		config:    config,
		source:    source,
		launcher:  launcher,
		persister: persister,
		devices:   devices,
		clock:     time.Now,
		jobs:      make(map[string]*Job),
		stoppers:  make(map[string]func()),
	}
}

// WithHistory attaches a run history sink.
func (s *Scheduler) WithHistory(sink HistorySink) *Scheduler {
	s.history = sink
	return s
}

// WithPresenter attaches a presenter.
func (s *Scheduler) WithPresenter(p Presenter) *Scheduler {
	s.presenter = p
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run loads the initial configuration and processes events until the
// context is cancelled. In-flight scripts are not killed on shutdown.
func (s *Scheduler) Run(ctx context.Context, events <-chan domain.Event) error {
	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("initial configuration: %w", err)
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, jobs=%d tick=%s", len(s.jobs), s.config.TickInterval)

	// An immediate first evaluation so never-run jobs start right away.
	s.handle(ctx, domain.Tick{Now: s.clock().UTC()})

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.handle(ctx, domain.Tick{Now: s.clock().UTC()})
		case event := <-events:
			s.handle(ctx, event)
		}
	}
}

// handle dispatches one event to zero or one job, runs all resulting
// transitions, and republishes status.
func (s *Scheduler) handle(ctx context.Context, event domain.Event) {
	started := s.clock()
	now := started.UTC()

	switch ev := event.(type) {
	case domain.Tick:
		if !ev.Now.IsZero() {
			now = ev.Now.UTC()
		}
		s.evaluateAll(ctx, now)

	case domain.ReadinessChanged:
		job, ok := s.jobs[ev.Job]
		if !ok {
			log.Printf("scheduler: readiness event for unknown job %q", ev.Job)
			break
		}
		log.Printf("scheduler: job=%s device ready=%t", ev.Job, ev.Ready)
		job.HandleReadiness(ev.Ready, now)
		s.evaluate(ctx, job, now)

	case domain.ProcessCompleted:
		s.handleCompletion(ctx, ev, now)

	case domain.RunNow:
		job, ok := s.jobs[ev.Job]
		if !ok {
			log.Printf("scheduler: run-now for unknown job %q", ev.Job)
			break
		}
		log.Printf("scheduler: job=%s manual run requested", ev.Job)
		job.RequestRunNow()
		s.evaluate(ctx, job, now)

	case domain.ExecutePostAction:
		s.handleExecutePostAction(ctx, ev, now)

	case domain.DismissPostActions:
		if job, ok := s.jobs[ev.Job]; ok {
			job.DismissPostActions()
			s.evaluate(ctx, job, now)
		}

	case domain.ReloadRequested:
		if err := s.reload(ctx); err != nil {
			log.Printf("scheduler: reload rejected, keeping previous configuration: %v", err)
		} else {
			log.Printf("scheduler: configuration reloaded, jobs=%d", len(s.jobs))
		}
		s.evaluateAll(ctx, now)

	default:
		log.Printf("scheduler: unknown event %T", event)
	}

	s.publish(now)

	if s.metrics != nil {
		s.metrics.EventProcessed(event.Kind(), s.clock().Sub(started))
	}
}

func (s *Scheduler) evaluateAll(ctx context.Context, now time.Time) {
	for _, name := range s.order {
		s.evaluate(ctx, s.jobs[name], now)
	}
}

// evaluate runs one job's scheduling decision and executes a resulting
// launch.
func (s *Scheduler) evaluate(ctx context.Context, job *Job, now time.Time) {
	intent := job.Evaluate(now, s.retryCooldown)
	if intent == nil {
		return
	}
	s.launch(ctx, job, intent, now)
}

func (s *Scheduler) launch(ctx context.Context, job *Job, intent *launchIntent, now time.Time) {
	id := s.launcher.Launch(ctx, job.Name(), intent.kind, intent.script)
	job.RunStarted(id, intent, now)

	if intent.kind == domain.RunKindBackup {
		log.Printf("scheduler: job=%s running backup script run=%s", job.Name(), id)
	} else {
		log.Printf("scheduler: job=%s running post-backup action %q run=%s", job.Name(), intent.action, id)
	}
	if s.metrics != nil {
		s.metrics.RunStarted(string(intent.kind))
	}
}

func (s *Scheduler) handleCompletion(ctx context.Context, ev domain.ProcessCompleted, now time.Time) {
	job, ok := s.jobs[ev.Job]
	if !ok {
		// The job was removed by a reload while its process was in
		// flight; let the result vanish.
		log.Printf("scheduler: absorbing completion for removed job %q run=%s", ev.Job, ev.RunID)
		return
	}

	result, ok := job.HandleCompletion(ev, now)
	if !ok {
		log.Printf("scheduler: job=%s stale completion run=%s ignored", ev.Job, ev.RunID)
		return
	}

	log.Printf("scheduler: job=%s %s finished outcome=%s exit=%d",
		ev.Job, result.record.Kind, result.record.Outcome, ev.ExitCode)

	if s.metrics != nil {
		s.metrics.RunCompleted(string(result.record.Kind), string(result.record.Outcome), ev.FinishedAt.Sub(ev.StartedAt))
	}

	if result.persist {
		s.persist(job.Name(), ev.FinishedAt)
	}
	if s.history != nil {
		s.recordRun(ctx, result.record)
	}
	if s.presenter != nil {
		if result.record.Kind == domain.RunKindBackup {
			s.presenter.RunFinished(ev.Job, result.record.Outcome, job.lastMessage)
		}
		if len(result.offerActions) > 0 {
			s.presenter.OfferPostActions(ev.Job, result.offerActions)
		}
	}

	s.evaluate(ctx, job, now)
}

func (s *Scheduler) handleExecutePostAction(ctx context.Context, ev domain.ExecutePostAction, now time.Time) {
	job, ok := s.jobs[ev.Job]
	if !ok {
		log.Printf("scheduler: post-action command for unknown job %q", ev.Job)
		return
	}

	intent, err := job.ExecutePostAction(ev.Index)
	if err != nil {
		log.Printf("scheduler: %v", err)
		return
	}
	s.launch(ctx, job, intent, now)
}

// persist writes the new last-backup timestamp in the background. Failure
// is logged and surfaced as a degraded indicator; the in-memory timestamp
// stays authoritative.
func (s *Scheduler) persist(name string, ts time.Time) {
	go func() {
		if err := s.persister.SaveLastBackup(name, ts); err != nil {
			log.Printf("scheduler: job=%s failed to persist last-backup timestamp: %v", name, err)
			s.degraded.Store(true)
			if s.metrics != nil {
				s.metrics.PersistenceFailure()
			}
		}
	}()
}

func (s *Scheduler) recordRun(ctx context.Context, record domain.RunRecord) {
	go func() {
		if err := s.history.RecordRun(ctx, record); err != nil {
			log.Printf("scheduler: job=%s failed to record run %s: %v", record.Job, record.ID, err)
		}
	}()
}

// reload loads a new snapshot and diffs it against the running jobs.
func (s *Scheduler) reload(ctx context.Context) error {
	snapshot, err := s.source.LoadSnapshot()
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	s.retryCooldown = snapshot.RetryCooldown

	next := make(map[string]*Job, len(snapshot.Jobs))
	order := make([]string, 0, len(snapshot.Jobs))

	for _, cfg := range snapshot.Jobs {
		order = append(order, cfg.Name)

		if existing, ok := s.jobs[cfg.Name]; ok {
			pathChanged := existing.config.BackupPath != cfg.BackupPath
			existing.ApplyConfig(cfg, now)
			next[cfg.Name] = existing
			if pathChanged {
				s.restartWatch(cfg)
			}
			continue
		}

		job := NewJob(cfg)
		next[cfg.Name] = job
		s.startWatch(cfg)
	}

	// Removed jobs stop being scheduled; an in-flight process is left to
	// finish and its completion is absorbed.
	for name, job := range s.jobs {
		if _, ok := next[name]; ok {
			continue
		}
		if job.Running() {
			log.Printf("scheduler: job=%s removed with run in flight; letting it finish", name)
		}
		s.stopWatch(name)
	}

	s.jobs = next
	s.order = order
	return nil
}

func (s *Scheduler) startWatch(cfg domain.JobConfig) {
	if !cfg.HasDeviceGate() || s.devices == nil {
		return
	}
	s.stoppers[cfg.Name] = s.devices.Watch(cfg.Name, cfg.BackupPath)
}

func (s *Scheduler) stopWatch(name string) {
	if stop, ok := s.stoppers[name]; ok {
		stop()
		delete(s.stoppers, name)
	}
}

func (s *Scheduler) restartWatch(cfg domain.JobConfig) {
	s.stopWatch(cfg.Name)
	s.startWatch(cfg)
}

// publish recomputes the aggregate projection and pushes it to the
// presenter and metrics sink.
func (s *Scheduler) publish(now time.Time) {
	statuses := make([]domain.JobStatus, 0, len(s.order))
	aggregate := domain.AggregateStatus{Degraded: s.degraded.Load()}

	overdue, waitingDevice, running := 0, 0, 0

	for _, name := range s.order {
		status := s.jobs[name].Status(now, s.retryCooldown)
		statuses = append(statuses, status)

		if status.Overdue {
			aggregate.AnyOverdue = true
			overdue++
		}
		if status.Phase == domain.PhaseWaitingForDevice {
			aggregate.AnyWaitingDevice = true
			waitingDevice++
		}
		if status.Phase == domain.PhaseRunning {
			aggregate.AnyRunning = true
			running++
		}
		if status.NextDue != nil && (aggregate.NextDue == nil || status.NextDue.Before(*aggregate.NextDue)) {
			aggregate.NextDue = status.NextDue
		}
	}

	aggregate.Summary = summarize(statuses, aggregate, now)

	if s.metrics != nil {
		s.metrics.JobsOverdueUpdate(overdue)
		s.metrics.JobsWaitingDeviceUpdate(waitingDevice)
		s.metrics.JobsRunningUpdate(running)
	}

	if s.presenter == nil {
		return
	}
	s.presenter.PublishStatus(statuses, aggregate)

	if aggregate.AnyOverdue && s.reminderDue(now) {
		t := now
		s.lastReminder = &t
		s.presenter.ShowReminder()
	}
}

func (s *Scheduler) reminderDue(now time.Time) bool {
	return s.lastReminder == nil || !now.Before(s.lastReminder.Add(ReminderNotificationInterval))
}

// summarize builds the one-line aggregate text used for tray tooltips.
func summarize(statuses []domain.JobStatus, aggregate domain.AggregateStatus, now time.Time) string {
	switch {
	case len(statuses) == 0:
		return "No backup scripts configured"
	case aggregate.AnyRunning:
		return "Backup running"
	case aggregate.AnyOverdue:
		return "Backup out of date"
	case aggregate.AnyWaitingDevice:
		return "Waiting for backup device"
	case aggregate.NextDue != nil:
		until, _ := timeutil.Round(aggregate.NextDue.Sub(now), timeutil.AccuracyMinutes, timeutil.DirectionDown)
		return fmt.Sprintf("Next backup in %s", timeutil.FormatDuration(until))
	default:
		return "Idle"
	}
}

// sortedJobNames is used by tests to inspect scheduler state.
func (s *Scheduler) sortedJobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
