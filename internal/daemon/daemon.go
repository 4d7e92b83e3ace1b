// Package daemon assembles and supervises the full Ghillie service: the
// SQLite stores, the ingestion and transformation pipeline, scheduled and
// on-demand reporting, the HTTP API, the optional Prometheus listener, and
// the catalogue watcher. Components start in dependency order and stop in
// reverse.
package daemon

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	"git.home.luguber.info/inful/ghillie/internal/config"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/ingest"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/metrics"
	"git.home.luguber.info/inful/ghillie/internal/observability"
	"git.home.luguber.info/inful/ghillie/internal/registry"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
	"git.home.luguber.info/inful/ghillie/internal/server"
	"git.home.luguber.info/inful/ghillie/internal/silver"
	"git.home.luguber.info/inful/ghillie/internal/sink"
	"git.home.luguber.info/inful/ghillie/internal/status"
	"git.home.luguber.info/inful/ghillie/internal/storage"
	"git.home.luguber.info/inful/ghillie/internal/transform"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Cadences for the maintenance jobs that have no dedicated interval setting.
const (
	stalenessSweepInterval  = time.Hour
	catalogueResyncInterval = 6 * time.Hour
)

const reportQueueSize = 100

// Daemon is the long-running Ghillie service.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	events    *bronze.Store
	entities  *silver.Store
	reports   *gold.Store
	catalogue *catalogue.FileStore
	registry  *registry.Registry
	pipeline  *transform.Service
	ingestor  *ingest.Worker
	reporter  *reporting.Service
	writer    *sink.AsyncWriter
	queue     *ReportQueue
	scheduler *Scheduler
	watcher   *CatalogueWatcher
	api       *server.Server
	emitter   observability.Emitter
	nats      *observability.NATSPublisher
	recorder  metrics.Recorder

	promRegistry *prom.Registry
	httpState    httpState

	status    atomic.Value // Status
	startTime time.Time
	stopChan  chan struct{}
}

// New wires every component from the loaded configuration. Nothing starts
// running until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, gerrors.ConfigRequired("configuration")
	}
	if cfg.CataloguePath == "" {
		return nil, gerrors.ConfigRequired("CATALOGUE_PATH")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logfields.Component("daemon")),
		stopChan: make(chan struct{}),
	}
	d.status.Store(StatusStopped)

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	d.db = db
	wired := false
	defer func() {
		if !wired {
			_ = db.Close()
		}
	}()

	if d.events, err = bronze.NewStore(db); err != nil {
		return nil, err
	}
	if d.entities, err = silver.NewStore(db); err != nil {
		return nil, err
	}
	if d.reports, err = gold.NewStore(db); err != nil {
		return nil, err
	}

	if d.catalogue, err = catalogue.NewFileStore(cfg.CataloguePath); err != nil {
		return nil, err
	}
	d.registry = registry.New(d.catalogue, d.entities, logger)
	d.pipeline = transform.NewService(db, d.events, d.entities, transform.NewRegistry(), logger)

	emitters := observability.MultiEmitter{observability.NewLogEmitter(logger)}
	if cfg.NATSURL != "" {
		nats, err := observability.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		d.nats = nats
		emitters = append(emitters, nats)
	}
	d.emitter = emitters

	d.recorder = metrics.NoopRecorder{}
	if cfg.MetricsEnabled {
		d.promRegistry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.promRegistry)
	}

	var source ingest.ActivitySource
	switch cfg.IngestSource {
	case config.SourceLocal:
		source = github.NewLocalMirrorSource(cfg.LocalMirrorPath, logger)
	default:
		apiSource, err := github.NewAPISource(cfg.GitHubToken, cfg.GitHubAPIURL, cfg.GitHubTimeout, logger)
		if err != nil {
			return nil, err
		}
		source = apiSource
	}
	d.ingestor = ingest.NewWorker(cfg.IngestSource, source, d.catalogue,
		d.events, d.entities, d.emitter, d.recorder, logger)

	model, err := status.New(status.Options{
		Backend:     cfg.StatusModelBackend,
		APIKey:      cfg.OpenAIAPIKey,
		Endpoint:    cfg.OpenAIEndpoint,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   int64(cfg.OpenAIMaxTokens),
		Timeout:     cfg.OpenAITimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.SinkEnabled() {
		fsSink, err := sink.NewFilesystemSink(cfg.ReportSinkPath, logger)
		if err != nil {
			return nil, err
		}
		d.writer = sink.NewAsyncWriter(fsSink, 0, logger)
	}

	d.reporter = reporting.NewService(reporting.Config{
		WindowDays:  cfg.ReportingWindowDays,
		MaxAttempts: cfg.ValidationMaxAttempts,
	}, reporting.Deps{
		Entities: d.entities,
		Reports:  d.reports,
		Bundles:  evidence.NewService(d.entities, d.reports, logger),
		Projects: evidence.NewProjectService(d.catalogue, d.entities, d.reports),
		Model:    model,
		Writer:   d.writer,
		Events:   d.emitter,
		Recorder: d.recorder,
		Logger:   logger,
	})

	d.queue = NewReportQueue(reportQueueSize, cfg.ReportWorkers, d.reporter, d.recorder, logger)

	d.api = server.New(server.Deps{
		DB:       db,
		Entities: d.entities,
		Reports:  d.reports,
		Runner:   d.reporter,
		Runtime:  d,
		Logger:   logger,
	})

	if d.scheduler, err = NewScheduler(logger); err != nil {
		return nil, err
	}

	if cfg.CatalogueWatch {
		d.watcher, err = NewCatalogueWatcher(cfg.CataloguePath, d.catalogue, d.registry, d.emitter, logger)
		if err != nil {
			return nil, err
		}
	}

	wired = true
	return d, nil
}

// Start brings the daemon up: catalogue sync, HTTP listeners, queue workers,
// scheduled jobs, catalogue watcher. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	if d.GetStatus() != StatusStopped {
		return gerrors.DaemonError("daemon is not in stopped state: " + string(d.GetStatus()))
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now().UTC()

	stats, err := d.registry.SyncFromCatalogue(ctx)
	if err != nil {
		d.status.Store(StatusError)
		return err
	}
	d.logger.Info("catalogue synchronised",
		slog.String("revision", d.catalogue.Revision()),
		slog.Int("created", stats.Created),
		slog.Int("enabled", stats.Enabled),
		slog.Int("disabled", stats.Disabled))

	if err := d.startHTTP(); err != nil {
		d.status.Store(StatusError)
		return err
	}

	d.queue.Start(ctx)

	if err := d.scheduleJobs(ctx); err != nil {
		d.status.Store(StatusError)
		return err
	}
	d.scheduler.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Error("failed to start catalogue watcher", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	d.logger.Info("daemon started",
		slog.String("api_addr", d.httpState.apiAddr),
		slog.String("metrics_addr", d.httpState.metricsAddr),
		slog.String("model_backend", d.cfg.StatusModelBackend),
		slog.String("ingest_source", d.cfg.IngestSource))
	return nil
}

// scheduleJobs registers the recurring work: ingestion, scheduled reporting,
// the staleness sweep, and the catalogue re-sync fallback.
func (d *Daemon) scheduleJobs(ctx context.Context) error {
	if err := d.scheduler.Every(d.cfg.IngestInterval, "ingestion", func() { d.runIngestionPass(ctx) }); err != nil {
		return err
	}
	if err := d.scheduler.Every(d.cfg.ReportInterval, "reporting", func() { d.enqueueScheduledReports(ctx) }); err != nil {
		return err
	}
	if err := d.scheduler.Every(stalenessSweepInterval, "staleness-sweep", func() { d.sweepStalled(ctx) }); err != nil {
		return err
	}
	if err := d.scheduler.Every(catalogueResyncInterval, "catalogue-resync", func() { d.resyncCatalogue(ctx) }); err != nil {
		return err
	}
	return nil
}

// Stop shuts components down in reverse boot order, bounded by ctx. The sink
// writer drains before the database closes so accepted reports still reach
// the filesystem.
func (d *Daemon) Stop(ctx context.Context) error {
	current := d.GetStatus()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	d.logger.Info("stopping daemon")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			d.logger.Error("failed to stop scheduler", logfields.Error(err))
		}
	}
	if d.queue != nil {
		d.queue.Stop(ctx)
	}
	if err := d.stopHTTP(ctx); err != nil {
		d.logger.Error("HTTP shutdown errors", logfields.Error(err))
	}
	if d.writer != nil {
		d.writer.Close()
	}
	if d.nats != nil {
		d.nats.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Error("failed to close database", logfields.Error(err))
		}
	}

	d.status.Store(StatusStopped)
	d.logger.Info("daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// RuntimeStatus reports queue and pipeline state for the status endpoint.
func (d *Daemon) RuntimeStatus(ctx context.Context) (server.RuntimeStatus, error) {
	checkpoints, err := d.events.CountCheckpoints(ctx)
	if err != nil {
		return server.RuntimeStatus{}, err
	}
	cutoff := time.Now().UTC().Add(-d.cfg.StalenessThreshold)
	stalled, err := d.events.ListStalled(ctx, cutoff)
	if err != nil {
		return server.RuntimeStatus{}, err
	}

	return server.RuntimeStatus{
		State:               string(d.GetStatus()),
		StartedAt:           d.startTime,
		QueueDepth:          d.queue.Depth(),
		ActiveJobs:          d.queue.ActiveJobs(),
		CheckpointCount:     checkpoints,
		StalledRepositories: len(stalled),
		CatalogueRevision:   d.catalogue.Revision(),
	}, nil
}
