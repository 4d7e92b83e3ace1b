// Package ingest drives per-repository activity polling: it reads the
// checkpoint, fetches new activity from the injected source, applies the
// catalogue noise filters, and writes raw events in deterministic order.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/metrics"
	"git.home.luguber.info/inful/ghillie/internal/observability"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// ActivitySource yields normalised repository activity newer than since.
type ActivitySource interface {
	FetchSince(ctx context.Context, repo silver.Repository, since time.Time) ([]github.ActivityRecord, error)
}

// RunStats summarises one per-repository ingestion run.
type RunStats struct {
	EventsIngested int
	Duplicates     int
	Filtered       int
}

// Worker polls activity for active repositories and writes it to Bronze.
type Worker struct {
	sourceName string
	source     ActivitySource
	adapter    catalogue.Adapter
	events     *bronze.Store
	entities   *silver.Store
	emitter    observability.Emitter
	recorder   metrics.Recorder
	logger     *slog.Logger
}

func NewWorker(sourceName string, source ActivitySource, adapter catalogue.Adapter,
	events *bronze.Store, entities *silver.Store,
	emitter observability.Emitter, recorder metrics.Recorder, logger *slog.Logger,
) *Worker {
	if emitter == nil {
		emitter = observability.NopEmitter{}
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		sourceName: sourceName,
		source:     source,
		adapter:    adapter,
		events:     events,
		entities:   entities,
		emitter:    emitter,
		recorder:   recorder,
		logger:     logger.With(logfields.Component("ingest")),
	}
}

// RunAll polls every active repository in slug order, sequentially. A
// failing repository is recorded and skipped; the pass continues.
func (w *Worker) RunAll(ctx context.Context) error {
	repos, err := w.entities.ListActiveRepositories(ctx)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.RunRepository(ctx, repo); err != nil {
			w.logger.Error("ingestion run failed",
				logfields.Repository(repo.Slug()),
				logfields.Error(err),
			)
		}
	}
	return nil
}

// RunRepository executes one checkpointed ingestion run.
func (w *Worker) RunRepository(ctx context.Context, repo silver.Repository) (RunStats, error) {
	var stats RunStats
	slug := repo.Slug()
	start := time.Now()

	w.emitter.Emit(ctx, observability.NewEvent(observability.IngestionRunStarted, map[string]any{
		"repo_slug": slug,
	}))

	since := time.Time{}
	checkpoint, err := w.events.GetCheckpoint(ctx, slug)
	if err != nil {
		return stats, w.failRun(ctx, slug, err)
	}
	if checkpoint != nil && checkpoint.LastEventAt != nil {
		since = *checkpoint.LastEventAt
	}

	records, err := w.source.FetchSince(ctx, repo, since)
	if err != nil {
		return stats, w.failRun(ctx, slug, err)
	}

	filters, err := catalogue.FiltersForSlug(ctx, w.adapter, slug)
	if err != nil {
		return stats, w.failRun(ctx, slug, err)
	}
	if filters.FilterBotAuthors {
		kept := records[:0]
		for _, record := range records {
			if isBotAuthor(record.Author) {
				stats.Filtered++
				continue
			}
			kept = append(kept, record)
		}
		records = kept
	}

	// Deterministic write order regardless of source ordering.
	sort.Slice(records, func(i, j int) bool {
		if !records[i].OccurredAt.Equal(records[j].OccurredAt) {
			return records[i].OccurredAt.Before(records[j].OccurredAt)
		}
		return records[i].ExternalID < records[j].ExternalID
	})

	var watermark *time.Time
	for _, record := range records {
		payload, err := json.Marshal(record.Payload)
		if err != nil {
			return stats, w.failRun(ctx, slug, gerrors.InternalError("marshal activity payload", err))
		}
		outcome, err := w.events.Ingest(ctx, bronze.IngestInput{
			Source:     w.sourceName,
			EventType:  record.EventType,
			ExternalID: record.ExternalID,
			OccurredAt: record.OccurredAt.UTC().Format(time.RFC3339Nano),
			Payload:    payload,
		})
		if err != nil {
			return stats, w.failRun(ctx, slug, err)
		}
		switch outcome {
		case bronze.OutcomeInserted:
			stats.EventsIngested++
		case bronze.OutcomeDuplicate:
			stats.Duplicates++
		}
		occurred := record.OccurredAt
		if watermark == nil || occurred.After(*watermark) {
			watermark = &occurred
		}
	}

	if err := w.events.RecordSuccess(ctx, slug, time.Now().UTC(), watermark); err != nil {
		return stats, err
	}

	latency := time.Since(start)
	w.recorder.IncIngestionRun(metrics.ResultSuccess)
	w.recorder.AddEventsIngested(stats.EventsIngested)
	w.recorder.ObserveIngestionDuration(slug, latency)
	w.emitter.Emit(ctx, observability.NewEvent(observability.IngestionRunCompleted, map[string]any{
		"repo_slug":       slug,
		"events_ingested": stats.EventsIngested,
		"latency_ms":      latency.Milliseconds(),
	}))
	w.logger.Info("ingestion run completed",
		logfields.Repository(slug),
		slog.Int("events_ingested", stats.EventsIngested),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("filtered", stats.Filtered),
	)
	return stats, nil
}

func (w *Worker) failRun(ctx context.Context, slug string, cause error) error {
	if err := w.events.RecordFailure(ctx, slug); err != nil {
		w.logger.Error("record ingestion failure", logfields.Repository(slug), logfields.Error(err))
	}
	category := "permanent"
	if gerrors.IsRetryable(cause) {
		category = "transient"
	}
	w.recorder.IncIngestionRun(metrics.ResultFailed)
	w.emitter.Emit(ctx, observability.NewEvent(observability.IngestionRunFailed, map[string]any{
		"repo_slug":      slug,
		"error_category": category,
		"message":        cause.Error(),
	}))
	return cause
}

// SweepStalled reports repositories whose last successful run is older than
// the threshold (or that never succeeded).
func (w *Worker) SweepStalled(ctx context.Context, threshold time.Duration) ([]bronze.Checkpoint, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	stalled, err := w.events.ListStalled(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	w.recorder.SetStalledRepositories(len(stalled))
	for _, checkpoint := range stalled {
		fields := map[string]any{"repo_slug": checkpoint.RepoSlug}
		if checkpoint.LastSuccessAt != nil {
			fields["last_success_at"] = checkpoint.LastSuccessAt.UTC().Format(time.RFC3339)
		}
		w.emitter.Emit(ctx, observability.NewEvent(observability.IngestionRepoStalled, fields))
	}
	return stalled, nil
}

// isBotAuthor matches the GitHub app-account convention.
func isBotAuthor(author string) bool {
	return strings.HasSuffix(strings.ToLower(author), "[bot]")
}
