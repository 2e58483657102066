package monitor

import (
	"log"
	"strings"
	"sync"

	"github.com/dfaust/backup-monitor/internal/domain"
)

// LogPresenter writes user-facing notifications to the process log. It
// stands in for a desktop notifier on headless installs.
type LogPresenter struct{}

func (LogPresenter) PublishStatus([]domain.JobStatus, domain.AggregateStatus) {}

func (LogPresenter) OfferPostActions(job string, labels []string) {
	log.Printf("notify: job=%s backup finished, post-backup actions available: %s",
		job, strings.Join(labels, ", "))
}

func (LogPresenter) ShowReminder() {
	log.Println("notify: backup out of date")
}

func (LogPresenter) RunFinished(job string, outcome domain.Outcome, message string) {
	log.Printf("notify: job=%s backup %s (%s)", job, outcome, message)
}

// StatusCache retains the most recently published status snapshot for the
// HTTP API. Safe for concurrent use.
type StatusCache struct {
	mu        sync.RWMutex
	jobs      []domain.JobStatus
	aggregate domain.AggregateStatus
}

func NewStatusCache() *StatusCache {
	return &StatusCache{aggregate: domain.AggregateStatus{Summary: "Starting"}}
}

func (c *StatusCache) PublishStatus(jobs []domain.JobStatus, aggregate domain.AggregateStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = jobs
	c.aggregate = aggregate
}

func (c *StatusCache) OfferPostActions(string, []string) {}

func (c *StatusCache) ShowReminder() {}

func (c *StatusCache) RunFinished(string, domain.Outcome, string) {}

// Snapshot returns the latest published jobs and aggregate.
func (c *StatusCache) Snapshot() ([]domain.JobStatus, domain.AggregateStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobs, c.aggregate
}

// TeePresenter fans one publication out to several presenters.
type TeePresenter []Presenter

func (t TeePresenter) PublishStatus(jobs []domain.JobStatus, aggregate domain.AggregateStatus) {
	for _, p := range t {
		p.PublishStatus(jobs, aggregate)
	}
}

func (t TeePresenter) OfferPostActions(job string, labels []string) {
	for _, p := range t {
		p.OfferPostActions(job, labels)
	}
}

func (t TeePresenter) ShowReminder() {
	for _, p := range t {
		p.ShowReminder()
	}
}

func (t TeePresenter) RunFinished(job string, outcome domain.Outcome, message string) {
	for _, p := range t {
		p.RunFinished(job, outcome, message)
	}
}
