package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dfaust/backup-monitor/internal/domain"
	"github.com/dfaust/backup-monitor/internal/testutil"
)

type launchRecord struct {
	job    string
	kind   domain.RunKind
	script string
	id     uuid.UUID
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launchRecord
}

func (l *fakeLauncher) Launch(_ context.Context, job string, kind domain.RunKind, script string) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.launches = append(l.launches, launchRecord{job: job, kind: kind, script: script, id: id})
	return id
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

func (l *fakeLauncher) last(t *testing.T) launchRecord {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launches) == 0 {
		t.Fatal("no launches recorded")
	}
	return l.launches[len(l.launches)-1]
}

type fakeSource struct {
	mu       sync.Mutex
	snapshot ConfigSnapshot
	err      error
}

func (s *fakeSource) LoadSnapshot() (ConfigSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.err
}

func (s *fakeSource) set(jobs ...domain.JobConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = ConfigSnapshot{Jobs: jobs, RetryCooldown: testCooldown}
	s.err = nil
}

type savedTimestamp struct {
	name string
	ts   time.Time
}

type fakePersister struct {
	saves chan savedTimestamp
	err   error
}

func newFakePersister() *fakePersister {
	return &fakePersister{saves: make(chan savedTimestamp, 16)}
}

func (p *fakePersister) SaveLastBackup(name string, ts time.Time) error {
	p.saves <- savedTimestamp{name: name, ts: ts}
	return p.err
}

func (p *fakePersister) waitForSave(t *testing.T) savedTimestamp {
	t.Helper()
	select {
	case s := <-p.saves:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a persistence write")
		return savedTimestamp{}
	}
}

type fakePresenter struct {
	mu        sync.Mutex
	aggregate domain.AggregateStatus
	statuses  []domain.JobStatus
	offers    map[string][]string
	reminders int
	finished  []string
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{offers: make(map[string][]string)}
}

func (p *fakePresenter) PublishStatus(jobs []domain.JobStatus, aggregate domain.AggregateStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = jobs
	p.aggregate = aggregate
}

func (p *fakePresenter) OfferPostActions(job string, labels []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers[job] = labels
}

func (p *fakePresenter) ShowReminder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reminders++
}

func (p *fakePresenter) RunFinished(job string, outcome domain.Outcome, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, job+":"+string(outcome))
}

func (p *fakePresenter) reminderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reminders
}

func (p *fakePresenter) lastAggregate() domain.AggregateStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aggregate
}

type fakeDevices struct {
	mu      sync.Mutex
	watched []string
	stopped []string
}

func (d *fakeDevices) Watch(job, path string) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watched = append(d.watched, job+"="+path)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.stopped = append(d.stopped, job)
	}
}

type schedulerFixture struct {
	scheduler *Scheduler
	source    *fakeSource
	launcher  *fakeLauncher
	persister *fakePersister
	presenter *fakePresenter
	devices   *fakeDevices
	clock     *testutil.FakeClock
	ctx       context.Context
}

func newFixture(t *testing.T, jobs ...domain.JobConfig) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		source:    &fakeSource{},
		launcher:  &fakeLauncher{},
		persister: newFakePersister(),
		presenter: newFakePresenter(),
		devices:   &fakeDevices{},
		clock:     testutil.NewFakeClock(baseTime),
		ctx:       testutil.TestContext(t),
	}
	f.source.set(jobs...)

	f.scheduler = New(Config{TickInterval: time.Minute}, f.source, f.launcher, f.persister, f.devices).
		WithPresenter(f.presenter)
	f.scheduler.clock = f.clock.Now

	if err := f.scheduler.reload(f.ctx); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	return f
}

func (f *schedulerFixture) tick() {
	f.scheduler.handle(f.ctx, domain.Tick{})
}

// complete finishes the job's active run with the given exit code.
func (f *schedulerFixture) complete(t *testing.T, name string, exitCode int) {
	t.Helper()
	job, ok := f.scheduler.jobs[name]
	if !ok || job.active == nil {
		t.Fatalf("job %q has no active run", name)
	}
	started := job.active.startedAt
	f.clock.Advance(time.Minute)
	f.scheduler.handle(f.ctx, domain.ProcessCompleted{
		Job:        name,
		RunID:      job.active.id,
		RunKind:    job.active.kind,
		ExitCode:   exitCode,
		StartedAt:  started,
		FinishedAt: f.clock.Now(),
	})
}

func TestScheduler_NeverRunJobLaunchesOnFirstTick(t *testing.T) {
	f := newFixture(t, ungatedConfig())

	f.tick()

	if got := f.launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	launch := f.launcher.last(t)
	if launch.job != "notes" || launch.kind != domain.RunKindBackup {
		t.Errorf("launch = %+v", launch)
	}

	// A second tick while the run is active must not launch again.
	f.tick()
	if got := f.launcher.count(); got != 1 {
		t.Errorf("launches after second tick = %d, want 1", got)
	}
}

func TestScheduler_CompletionPersistsAndNotifies(t *testing.T) {
	f := newFixture(t, ungatedConfig())
	f.tick()

	f.complete(t, "notes", 0)

	saved := f.persister.waitForSave(t)
	if saved.name != "notes" {
		t.Errorf("persisted job = %q, want notes", saved.name)
	}
	if !saved.ts.Equal(f.clock.Now()) {
		t.Errorf("persisted ts = %v, want %v", saved.ts, f.clock.Now())
	}

	f.presenter.mu.Lock()
	finished := append([]string(nil), f.presenter.finished...)
	f.presenter.mu.Unlock()
	if len(finished) != 1 || finished[0] != "notes:success" {
		t.Errorf("finished notifications = %v", finished)
	}
}

func TestScheduler_FailedRunDoesNotPersist(t *testing.T) {
	f := newFixture(t, ungatedConfig())
	f.tick()

	f.complete(t, "notes", 2)

	select {
	case s := <-f.persister.saves:
		t.Errorf("unexpected persistence write after failure: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_ReadinessUnblocksGatedJob(t *testing.T) {
	f := newFixture(t, gatedConfig())

	f.tick()
	if got := f.launcher.count(); got != 0 {
		t.Fatalf("launches before device ready = %d, want 0", got)
	}

	f.scheduler.handle(f.ctx, domain.ReadinessChanged{Job: "documents", Ready: true})
	if got := f.launcher.count(); got != 1 {
		t.Errorf("launches after device ready = %d, want 1", got)
	}
}

func TestScheduler_WatchesGatedJobsOnly(t *testing.T) {
	f := newFixture(t, gatedConfig(), ungatedConfig())

	f.devices.mu.Lock()
	watched := append([]string(nil), f.devices.watched...)
	f.devices.mu.Unlock()

	if len(watched) != 1 || watched[0] != "documents=/mnt/backup" {
		t.Errorf("watched = %v, want only the gated job", watched)
	}
}

func TestScheduler_ReloadRestartsWatchOnPathChange(t *testing.T) {
	f := newFixture(t, gatedConfig())

	changed := gatedConfig()
	changed.BackupPath = "/mnt/other"
	f.source.set(changed)
	f.scheduler.handle(f.ctx, domain.ReloadRequested{})

	f.devices.mu.Lock()
	defer f.devices.mu.Unlock()
	if len(f.devices.stopped) != 1 || f.devices.stopped[0] != "documents" {
		t.Errorf("stopped = %v, want the old watch stopped", f.devices.stopped)
	}
	if len(f.devices.watched) != 2 || f.devices.watched[1] != "documents=/mnt/other" {
		t.Errorf("watched = %v, want a new watch on the changed path", f.devices.watched)
	}
}

func TestScheduler_ReloadErrorKeepsPreviousConfig(t *testing.T) {
	f := newFixture(t, ungatedConfig())

	f.source.mu.Lock()
	f.source.err = errors.New("yaml: line 3: mapping values are not allowed")
	f.source.mu.Unlock()

	f.scheduler.handle(f.ctx, domain.ReloadRequested{})

	if _, ok := f.scheduler.jobs["notes"]; !ok {
		t.Error("a failed reload must keep the previous job set")
	}
}

func TestScheduler_RemovedJobCompletionAbsorbed(t *testing.T) {
	f := newFixture(t, ungatedConfig())
	f.tick()

	job := f.scheduler.jobs["notes"]
	runID := job.active.id

	f.source.set() // all jobs removed
	f.scheduler.handle(f.ctx, domain.ReloadRequested{})
	if len(f.scheduler.jobs) != 0 {
		t.Fatalf("jobs after reload = %v, want none", f.scheduler.sortedJobNames())
	}

	// The orphaned completion must be absorbed without effect.
	f.scheduler.handle(f.ctx, domain.ProcessCompleted{
		Job: "notes", RunID: runID, RunKind: domain.RunKindBackup,
		StartedAt: baseTime, FinishedAt: f.clock.Now(),
	})

	select {
	case s := <-f.persister.saves:
		t.Errorf("unexpected persistence write for removed job: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_ReloadRoundTripYieldsFreshJob(t *testing.T) {
	f := newFixture(t, ungatedConfig())
	f.tick()
	staleID := f.scheduler.jobs["notes"].active.id

	// Remove and re-add the job across two reloads.
	f.source.set()
	f.scheduler.handle(f.ctx, domain.ReloadRequested{})
	f.source.set(ungatedConfig())
	f.scheduler.handle(f.ctx, domain.ReloadRequested{})

	fresh := f.scheduler.jobs["notes"]
	if fresh.lastBackup != nil {
		t.Error("re-added job must start from its configured state")
	}

	// The re-added instance launched on the reload evaluation; the old
	// run's completion must not be attributed to it.
	launchesBefore := f.launcher.count()
	f.scheduler.handle(f.ctx, domain.ProcessCompleted{
		Job: "notes", RunID: staleID, RunKind: domain.RunKindBackup,
		StartedAt: baseTime, FinishedAt: f.clock.Now(),
	})
	if fresh.lastBackup != nil {
		t.Error("stale completion must not update the fresh instance")
	}
	if f.launcher.count() != launchesBefore {
		t.Error("stale completion must not trigger a launch")
	}
}

func TestScheduler_RunNowCommand(t *testing.T) {
	cfg := ungatedConfig()
	last := baseTime.Add(-time.Minute) // not due for another ~59m
	cfg.LastBackup = &last
	f := newFixture(t, cfg)

	f.tick()
	if got := f.launcher.count(); got != 0 {
		t.Fatalf("launches before run-now = %d, want 0", got)
	}

	f.scheduler.handle(f.ctx, domain.RunNow{Job: "notes"})
	if got := f.launcher.count(); got != 1 {
		t.Errorf("launches after run-now = %d, want 1", got)
	}
}

func TestScheduler_PostActionOfferAndExecute(t *testing.T) {
	cfg := ungatedConfig()
	cfg.PostBackupActions = []domain.PostAction{{Label: "Unmount", Script: "#!/bin/sh\numount /mnt/backup\n"}}
	f := newFixture(t, cfg)
	f.tick()

	f.complete(t, "notes", 0)

	f.presenter.mu.Lock()
	offer := f.presenter.offers["notes"]
	f.presenter.mu.Unlock()
	if len(offer) != 1 || offer[0] != "Unmount" {
		t.Fatalf("offered actions = %v", offer)
	}

	f.scheduler.handle(f.ctx, domain.ExecutePostAction{Job: "notes", Index: 0})
	launch := f.launcher.last(t)
	if launch.kind != domain.RunKindPostAction {
		t.Errorf("launch kind = %s, want %s", launch.kind, domain.RunKindPostAction)
	}

	f.complete(t, "notes", 0)
	if phase := f.scheduler.jobs["notes"].phase; phase != domain.PhaseWaitingForInterval {
		t.Errorf("phase after post-action = %s, want %s", phase, domain.PhaseWaitingForInterval)
	}
}

func TestScheduler_DismissPostActionsCommand(t *testing.T) {
	cfg := ungatedConfig()
	cfg.PostBackupActions = []domain.PostAction{{Label: "Unmount", Script: "#!/bin/sh\n"}}
	f := newFixture(t, cfg)
	f.tick()
	f.complete(t, "notes", 0)

	f.scheduler.handle(f.ctx, domain.DismissPostActions{Job: "notes"})

	if phase := f.scheduler.jobs["notes"].phase; phase != domain.PhaseWaitingForInterval {
		t.Errorf("phase = %s, want %s", phase, domain.PhaseWaitingForInterval)
	}
}

func TestScheduler_ReminderRateLimited(t *testing.T) {
	f := newFixture(t, gatedConfig()) // never run, reminder set: overdue

	f.tick()
	if got := f.presenter.reminderCount(); got != 1 {
		t.Fatalf("reminders after first tick = %d, want 1", got)
	}

	f.clock.Advance(time.Hour)
	f.tick()
	if got := f.presenter.reminderCount(); got != 1 {
		t.Errorf("reminders within rate-limit window = %d, want 1", got)
	}

	f.clock.Advance(ReminderNotificationInterval)
	f.tick()
	if got := f.presenter.reminderCount(); got != 2 {
		t.Errorf("reminders after window elapsed = %d, want 2", got)
	}
}

func TestScheduler_PersistenceFailureFlagsDegraded(t *testing.T) {
	f := newFixture(t, ungatedConfig())
	f.persister.err = errors.New("read-only file system")
	f.tick()

	f.complete(t, "notes", 0)
	f.persister.waitForSave(t)

	// The degraded flag is set asynchronously; poll through ticks.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.tick()
		if f.presenter.lastAggregate().Degraded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("aggregate never flagged degraded after a persistence failure")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_AggregateSummary(t *testing.T) {
	f := newFixture(t, ungatedConfig())

	f.tick()
	if got := f.presenter.lastAggregate().Summary; got != "Backup running" {
		t.Errorf("summary while running = %q", got)
	}

	f.complete(t, "notes", 0)
	agg := f.presenter.lastAggregate()
	if agg.NextDue == nil {
		t.Fatal("aggregate should carry the earliest next due time")
	}
	if got := agg.Summary; got != "Next backup in 1h" {
		t.Errorf("summary = %q, want %q", got, "Next backup in 1h")
	}
}

func TestSummarize_NoJobs(t *testing.T) {
	got := summarize(nil, domain.AggregateStatus{}, baseTime)
	if got != "No backup scripts configured" {
		t.Errorf("summarize() = %q", got)
	}
}
