// Package runner launches backup and post-action scripts as child
// processes and reports their completion asynchronously.
package runner

import (
	"context"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/dfaust/backup-monitor/internal/domain"
)

// DefaultMaxOutputBytes bounds the captured combined stdout/stderr per run.
const DefaultMaxOutputBytes = 64 * 1024

// Emitter is where completion events are reported.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

type Option func(*Runner)

func WithMaxOutput(n int) Option {
	return func(r *Runner) { r.maxOutput = n }
}

// Runner executes script bodies. Each launch produces exactly one
// ProcessCompleted event, including spawn failures. Scripts are never
// killed or timed out; a script that never terminates keeps its job in the
// Running phase indefinitely.
type Runner struct {
	emitter   Emitter
	maxOutput int
	clock     func() time.Time
}

func New(emitter Emitter, opts ...Option) *Runner {
	r := &Runner{
		emitter:   emitter,
		maxOutput: DefaultMaxOutputBytes,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Launch starts the script asynchronously and returns its run ID
// immediately. The caller is notified via a ProcessCompleted event on the
// emitter; enforcement of one run per job is the state machine's concern,
// not the runner's.
func (r *Runner) Launch(ctx context.Context, job string, kind domain.RunKind, script string) uuid.UUID {
	id := uuid.New()
	started := r.clock().UTC()

	go func() {
		completion := r.run(id, job, kind, script, started)
		if err := r.emitter.Emit(ctx, completion); err != nil {
			log.Printf("runner: job=%s run=%s failed to emit completion: %v", job, id, err)
		}
	}()

	return id
}

func (r *Runner) run(id uuid.UUID, job string, kind domain.RunKind, script string, started time.Time) domain.ProcessCompleted {
	completion := domain.ProcessCompleted{
		Job:       job,
		RunID:     id,
		RunKind:   kind,
		StartedAt: started,
	}

	path, err := writeScript(script)
	if err != nil {
		completion.Err = err.Error()
		completion.ExitCode = -1
		completion.FinishedAt = r.clock().UTC()
		return completion
	}
	defer os.Remove(path)

	// The script file is executed directly so its shebang picks the
	// interpreter; scripts are opaque to the scheduler.
	output := newBoundedBuffer(r.maxOutput)
	cmd := exec.Command(path)
	cmd.Stdout = output
	cmd.Stderr = output

	err = cmd.Run()
	completion.FinishedAt = r.clock().UTC()
	completion.Output = output.String()

	switch e := err.(type) {
	case nil:
		completion.ExitCode = 0
	case *exec.ExitError:
		completion.ExitCode = e.ExitCode()
	default:
		completion.Err = err.Error()
		completion.ExitCode = -1
	}

	return completion
}

// writeScript persists the script body to an executable temp file.
func writeScript(script string) (string, error) {
	f, err := os.CreateTemp("", "backup-monitor-*.sh")
	if err != nil {
		return "", err
	}

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Chmod(0o700); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}
