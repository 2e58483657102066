package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	eventsTotal       *prometheus.CounterVec
	eventDuration     prometheus.Histogram
	jobsOverdue       prometheus.Gauge
	jobsWaitingDevice prometheus.Gauge
	jobsRunning       prometheus.Gauge

	// Run metrics
	runsStartedTotal *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram

	// Persistence metrics
	persistenceFailuresTotal prometheus.Counter

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initRunMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backupmonitor_scheduler_events_total",
		Help: "Total number of scheduler events processed, by kind.",
	}, []string{"kind"})
	s.eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "backupmonitor_scheduler_event_duration_seconds",
		Help:    "Time spent processing one scheduler event.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.jobsOverdue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backupmonitor_jobs_overdue",
		Help: "Number of jobs currently flagged overdue.",
	})
	s.jobsWaitingDevice = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backupmonitor_jobs_waiting_device",
		Help: "Number of jobs currently waiting for their target device.",
	})
	s.jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backupmonitor_jobs_running",
		Help: "Number of jobs with an active process.",
	})

	s.register(reg, s.eventsTotal, "backupmonitor_scheduler_events_total")
	s.register(reg, s.eventDuration, "backupmonitor_scheduler_event_duration_seconds")
	s.register(reg, s.jobsOverdue, "backupmonitor_jobs_overdue")
	s.register(reg, s.jobsWaitingDevice, "backupmonitor_jobs_waiting_device")
	s.register(reg, s.jobsRunning, "backupmonitor_jobs_running")
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backupmonitor_runs_started_total",
		Help: "Total number of script launches, by kind.",
	}, []string{"kind"})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backupmonitor_runs_total",
		Help: "Total number of completed script runs, by kind and outcome.",
	}, []string{"kind", "outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "backupmonitor_run_duration_seconds",
		Help:    "Script run duration in seconds.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
	})
	s.persistenceFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backupmonitor_persistence_failures_total",
		Help: "Total number of failed last-backup persistence writes.",
	})

	s.register(reg, s.runsStartedTotal, "backupmonitor_runs_started_total")
	s.register(reg, s.runsTotal, "backupmonitor_runs_total")
	s.register(reg, s.runDuration, "backupmonitor_run_duration_seconds")
	s.register(reg, s.persistenceFailuresTotal, "backupmonitor_persistence_failures_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backupmonitor_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backupmonitor_eventbus_buffer_capacity",
		Help: "Configured event bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backupmonitor_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or context cancelled).",
	})

	s.register(reg, s.bufferSize, "backupmonitor_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "backupmonitor_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "backupmonitor_eventbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) EventProcessed(kind string, duration time.Duration) {
	s.eventsTotal.WithLabelValues(kind).Inc()
	s.eventDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobsOverdueUpdate(count int) {
	s.jobsOverdue.Set(float64(count))
}

func (s *PrometheusSink) JobsWaitingDeviceUpdate(count int) {
	s.jobsWaitingDevice.Set(float64(count))
}

func (s *PrometheusSink) JobsRunningUpdate(count int) {
	s.jobsRunning.Set(float64(count))
}

// Run metrics implementation

func (s *PrometheusSink) RunStarted(kind string) {
	s.runsStartedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) RunCompleted(kind string, outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(kind, outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

// Persistence metrics implementation

func (s *PrometheusSink) PersistenceFailure() {
	s.persistenceFailuresTotal.Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
