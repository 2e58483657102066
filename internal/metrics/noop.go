package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventProcessed(kind string, duration time.Duration)               {}
func (n *NoopSink) JobsOverdueUpdate(count int)                                      {}
func (n *NoopSink) JobsWaitingDeviceUpdate(count int)                                {}
func (n *NoopSink) JobsRunningUpdate(count int)                                      {}
func (n *NoopSink) RunStarted(kind string)                                           {}
func (n *NoopSink) RunCompleted(kind string, outcome string, duration time.Duration) {}
func (n *NoopSink) PersistenceFailure()                                              {}
func (n *NoopSink) BufferSizeUpdate(size int)                                        {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                   {}
func (n *NoopSink) EmitError()                                                       {}
