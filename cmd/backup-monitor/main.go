package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfaust/backup-monitor/internal/api"
	"github.com/dfaust/backup-monitor/internal/config"
	"github.com/dfaust/backup-monitor/internal/metrics"
	"github.com/dfaust/backup-monitor/internal/monitor"
	"github.com/dfaust/backup-monitor/internal/runner"
	"github.com/dfaust/backup-monitor/internal/store/sqlite"
	"github.com/dfaust/backup-monitor/internal/transport/channel"
	"github.com/dfaust/backup-monitor/internal/watcher"
)

// settingsSource adapts the settings store to the scheduler's
// configuration interface. Load validates, so a snapshot is always a
// complete, consistent job set.
type settingsSource struct {
	store *config.Store
}

func (s *settingsSource) LoadSnapshot() (monitor.ConfigSnapshot, error) {
	settings, err := s.store.Load()
	if err != nil {
		return monitor.ConfigSnapshot{}, err
	}
	return monitor.ConfigSnapshot{
		Jobs:          settings.Jobs(),
		RetryCooldown: settings.RetryCooldownOrDefault(),
	}, nil
}

// deviceMonitor starts a filesystem watcher per gated job. Stop functions
// cancel the watcher goroutine; the parent context tears down all of them
// on shutdown.
type deviceMonitor struct {
	ctx context.Context
	bus *channel.EventBus
	wg  sync.WaitGroup
}

func (d *deviceMonitor) Watch(job, path string) func() {
	ctx, cancel := context.WithCancel(d.ctx)
	w := watcher.New(job, path, d.bus)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.Run(ctx)
	}()
	return cancel
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`backup-monitor - scheduled backup runner with device gating

Usage:
  backup-monitor <command>

Commands:
  serve      Start the backup scheduler and HTTP API
  validate   Validate configuration and settings file (nothing is run)
  config     Print effective configuration as JSON
  version    Print version information

Environment Variables:
  SETTINGS_PATH             Settings file path (default: ~/.config/backup-monitor.yaml)
  HISTORY_DB                Run history database path (default: next to settings)
  HISTORY_ENABLED           Enable the SQLite run history (default: "true")
  HTTP_ADDR                 HTTP API address (default: "127.0.0.1:8337")
  TICK_INTERVAL             Scheduler tick interval (default: "1m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  EVENTBUS_BUFFER_SIZE      Event buffer capacity (default: "100")
  WATCH_SETTINGS            Reload when the settings file changes (default: "true")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	settingsStore := config.NewStore(cfg.SettingsPath)
	log.Printf("backup-monitor: settings file %s", cfg.SettingsPath)

	// Fail fast on an unreadable or invalid settings file; later reloads
	// fall back to the last good configuration instead.
	source := &settingsSource{store: settingsStore}
	if _, err := source.LoadSnapshot(); err != nil {
		fmt.Fprintf(os.Stderr, "settings error: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("backup-monitor: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("backup-monitor: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	// Open run history (optional)
	var history *sqlite.HistoryStore
	if cfg.HistoryEnabled {
		var err error
		history, err = sqlite.Open(cfg.HistoryDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open run history: %v\n", err)
			return exitRuntimeError
		}
		defer history.Close()
		log.Printf("backup-monitor: run history %s", cfg.HistoryDB)
	} else {
		log.Println("backup-monitor: HISTORY_ENABLED=false; run history disabled")
	}

	scriptRunner := runner.New(bus)

	watcherCtx, cancelWatchers := context.WithCancel(context.Background())
	devices := &deviceMonitor{ctx: watcherCtx, bus: bus}

	statusCache := monitor.NewStatusCache()
	presenter := monitor.TeePresenter{monitor.LogPresenter{}, statusCache}

	sched := monitor.New(
		monitor.Config{TickInterval: cfg.TickInterval},
		source,
		scriptRunner,
		settingsStore,
		devices,
	).WithPresenter(presenter)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}
	if history != nil {
		sched = sched.WithHistory(history)
	}

	// HTTP API (and metrics on the same server)
	apiHandler := api.NewHandler(statusCache, bus)
	if history != nil {
		apiHandler = apiHandler.WithHistory(history)
	}
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler.Router())
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Printf("backup-monitor: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("backup-monitor: http server error: %v", err)
		}
	}()

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx, bus.Channel()); err != nil && err != context.Canceled {
			log.Printf("backup-monitor: scheduler error: %v", err)
		}
	}()

	// Watch the settings file for edits (optional)
	if cfg.WatchSettings {
		settingsWatcher := watcher.NewSettingsWatcher(cfg.SettingsPath, bus)
		go settingsWatcher.Run(watcherCtx)
		log.Println("backup-monitor: watching settings file for changes")
	} else {
		log.Println("backup-monitor: WATCH_SETTINGS=false; reload via POST /v1/reload")
	}

	log.Printf("backup-monitor: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("backup-monitor: received signal %v, shutting down", received)

	// Phase 1: Stop the watchers (no new readiness or reload events)
	log.Println("backup-monitor: stopping watchers...")
	cancelWatchers()
	devices.wg.Wait()
	log.Println("backup-monitor: watchers stopped")

	// Phase 2: Stop the scheduler. In-flight backup scripts are not
	// killed; their completions are lost to this process but the next
	// start re-evaluates from the persisted timestamps.
	log.Println("backup-monitor: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("backup-monitor: scheduler stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("backup-monitor: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("backup-monitor: http server shutdown error: %v", err)
	}
	log.Println("backup-monitor: http server stopped")

	log.Println("backup-monitor: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	settings, err := config.NewStore(cfg.SettingsPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "settings error: %v\n", err)
		return exitInvalidConfig
	}

	fmt.Printf("configuration valid (%d backup scripts)\n", len(settings.Scripts))
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("backup-monitor version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
