// Package watcher reports device readiness transitions for backup target
// paths, and settings file changes, onto the scheduler's event bus.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dfaust/backup-monitor/internal/domain"
)

const (
	// DefaultDebounce collapses bursts of raw filesystem events into at
	// most one readiness probe, so mount settling does not thrash the
	// state machine.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultPollInterval is used when the underlying watch mechanism
	// fails and the watcher degrades to polling.
	DefaultPollInterval = 5 * time.Second

	// probeFileName is created and removed inside the target path to
	// check writability.
	probeFileName = ".backup-monitor-test"
)

// Emitter is where readiness transitions are reported.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithProbe replaces the readiness probe; used in tests.
func WithProbe(probe func(path string) bool) Option {
	return func(w *Watcher) { w.probe = probe }
}

// Watcher monitors one job's target path and emits ReadinessChanged on
// every transition. The initial state is emitted on start.
type Watcher struct {
	job  string
	path string

	emitter      Emitter
	debounce     time.Duration
	pollInterval time.Duration
	probe        func(path string) bool

	lastReady bool
	reported  bool
}

func New(job, path string, emitter Emitter, opts ...Option) *Watcher {
	w := &Watcher{
		job:          job,
		path:         path,
		emitter:      emitter,
		debounce:     DefaultDebounce,
		pollInterval: DefaultPollInterval,
		probe:        IsReady,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsReady reports whether path exists and is writable by this process.
// Writability is checked by creating and removing a probe file, the only
// check that holds up for removable media mounted read-only.
func IsReady(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	probePath := filepath.Join(path, probeFileName)
	f, err := os.OpenFile(probePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	if err := os.Remove(probePath); err != nil {
		log.Printf("watcher: failed to remove probe file %s: %v", probePath, err)
	}
	return true
}

// Run watches until the context is done. It prefers filesystem events and
// degrades to periodic polling when the watch mechanism errors; a failed
// watch never stops readiness reporting.
func (w *Watcher) Run(ctx context.Context) {
	w.check(ctx)

	for ctx.Err() == nil {
		if err := w.watch(ctx); err != nil {
			log.Printf("watcher: job=%s watch failed (%v), falling back to polling", w.job, err)
			w.poll(ctx)
		}
	}
}

// watch runs the fsnotify loop until the context is done or the watch
// mechanism errors. The watch is placed on the target's parent directory
// so mounts and directory creation at the target itself are observed.
func (w *Watcher) watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			// Collapse event bursts into one probe.
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return err
		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.check(ctx)
		}
	}
}

// poll probes on a fixed interval for one poll cycle's worth of time, then
// returns so Run can retry the watch mechanism.
func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Bounded number of polls before retrying the watcher, so a
	// transient watch failure does not leave us polling forever.
	for i := 0; i < 12; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check probes the path and emits a ReadinessChanged event on transitions.
func (w *Watcher) check(ctx context.Context) {
	ready := w.probe(w.path)
	if w.reported && ready == w.lastReady {
		return
	}
	w.lastReady = ready
	w.reported = true

	if err := w.emitter.Emit(ctx, domain.ReadinessChanged{Job: w.job, Ready: ready}); err != nil {
		log.Printf("watcher: job=%s emit failed: %v", w.job, err)
		// Retry the report on the next probe.
		w.reported = false
	}
}
