package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/metrics"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
)

// jobState tracks a job through the queue.
type jobState string

const (
	jobQueued  jobState = "queued"
	jobRunning jobState = "running"
)

// ReportJob is one queued report run for a single scope. Exactly one of
// RepositoryID or ProjectKey is set.
type ReportJob struct {
	ScopeKey     string
	RepositoryID string
	ProjectKey   string
	EnqueuedAt   time.Time
}

// reportRunner is the slice of the reporting service the queue drives.
type reportRunner interface {
	RunForRepository(ctx context.Context, repositoryID string, asOf time.Time) (*reporting.RunResult, error)
	RunForProject(ctx context.Context, projectKey string, asOf time.Time) (*reporting.RunResult, error)
}

// ReportQueue serialises report generation onto a bounded worker pool. At
// most one job per scope key is admitted at a time: a duplicate submission
// while the first is queued or running is rejected.
type ReportQueue struct {
	jobs     chan ReportJob
	workers  int
	maxSize  int
	mu       sync.RWMutex
	admitted map[string]jobState
	stopChan chan struct{}
	wg       sync.WaitGroup
	runner   reportRunner
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewReportQueue creates a queue with the given capacity and worker count.
func NewReportQueue(maxSize, workers int, runner reportRunner, recorder metrics.Recorder, logger *slog.Logger) *ReportQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportQueue{
		jobs:     make(chan ReportJob, maxSize),
		workers:  workers,
		maxSize:  maxSize,
		admitted: make(map[string]jobState),
		stopChan: make(chan struct{}),
		runner:   runner,
		recorder: recorder,
		logger:   logger.With(logfields.Component("report_queue")),
	}
}

// Start begins processing jobs with the configured number of workers.
func (q *ReportQueue) Start(ctx context.Context) {
	q.logger.Info("starting report queue",
		slog.Int("workers", q.workers),
		slog.Int("max_size", q.maxSize))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("report-worker-%d", i))
	}
}

// Stop signals the workers and waits for in-flight jobs, bounded by ctx.
func (q *ReportQueue) Stop(ctx context.Context) {
	q.logger.Info("stopping report queue")

	select {
	case <-q.stopChan:
	default:
		close(q.stopChan)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("report queue stopped")
	case <-ctx.Done():
		q.logger.Warn("report queue stop timed out with jobs still running")
	}
}

// Enqueue admits a job unless its scope is already queued or running, or the
// queue is full.
func (q *ReportQueue) Enqueue(job ReportJob) error {
	if job.ScopeKey == "" {
		return gerrors.ValidationFailed("scope_key", "must not be empty")
	}

	q.mu.Lock()
	if state, exists := q.admitted[job.ScopeKey]; exists {
		q.mu.Unlock()
		return gerrors.DaemonError("report already " + string(state) + " for " + job.ScopeKey)
	}
	q.admitted[job.ScopeKey] = jobQueued
	q.mu.Unlock()

	job.EnqueuedAt = time.Now().UTC()
	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		q.logger.Debug("report job enqueued", logfields.Scope(job.ScopeKey))
		return nil
	default:
		q.mu.Lock()
		delete(q.admitted, job.ScopeKey)
		q.mu.Unlock()
		return gerrors.DaemonError("report queue is full")
	}
}

// Depth returns the number of jobs waiting for a worker.
func (q *ReportQueue) Depth() int {
	return len(q.jobs)
}

// ActiveJobs returns the scope keys currently being processed.
func (q *ReportQueue) ActiveJobs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	active := make([]string, 0, len(q.admitted))
	for key, state := range q.admitted {
		if state == jobRunning {
			active = append(active, key)
		}
	}
	return active
}

func (q *ReportQueue) worker(ctx context.Context, name string) {
	defer q.wg.Done()

	q.logger.Debug("report worker started", logfields.Worker(name))
	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("report worker stopped by context", logfields.Worker(name))
			return
		case <-q.stopChan:
			q.logger.Debug("report worker stopped by stop signal", logfields.Worker(name))
			return
		case job := <-q.jobs:
			q.recorder.SetQueueDepth(len(q.jobs))
			q.process(ctx, job, name)
		}
	}
}

func (q *ReportQueue) process(ctx context.Context, job ReportJob, worker string) {
	q.mu.Lock()
	q.admitted[job.ScopeKey] = jobRunning
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.admitted, job.ScopeKey)
		q.mu.Unlock()
	}()

	start := time.Now()
	q.logger.Info("report job started", logfields.Scope(job.ScopeKey), logfields.Worker(worker))

	var (
		result *reporting.RunResult
		err    error
	)
	if job.ProjectKey != "" {
		result, err = q.runner.RunForProject(ctx, job.ProjectKey, time.Now().UTC())
	} else {
		result, err = q.runner.RunForRepository(ctx, job.RepositoryID, time.Now().UTC())
	}

	duration := time.Since(start)
	switch {
	case err != nil:
		q.logger.Error("report job failed",
			logfields.Scope(job.ScopeKey),
			logfields.Worker(worker),
			slog.Duration("duration", duration),
			logfields.Error(err))
	case result == nil:
		q.logger.Info("report job found no uncovered activity",
			logfields.Scope(job.ScopeKey),
			logfields.Worker(worker))
	default:
		q.logger.Info("report job completed",
			logfields.Scope(job.ScopeKey),
			logfields.Worker(worker),
			logfields.ReportID(result.Report.ID),
			slog.Duration("duration", duration))
	}
}
