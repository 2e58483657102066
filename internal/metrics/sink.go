package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Scheduler metrics
	EventProcessed(kind string, duration time.Duration)
	JobsOverdueUpdate(count int)
	JobsWaitingDeviceUpdate(count int)
	JobsRunningUpdate(count int)

	// Run metrics
	RunStarted(kind string)
	RunCompleted(kind string, outcome string, duration time.Duration)

	// Persistence metrics
	PersistenceFailure()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

// Outcome constants for RunCompleted.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
