package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

// runIngestionPass polls every active repository, then hydrates whatever
// landed in Bronze into the Silver entities.
func (d *Daemon) runIngestionPass(ctx context.Context) {
	if err := d.ingestor.RunAll(ctx); err != nil {
		d.logger.Error("ingestion pass failed", logfields.Error(err))
	}

	stats, err := d.pipeline.TransformPending(ctx, 0)
	if err != nil {
		d.logger.Error("transformation pass failed", logfields.Error(err))
		return
	}
	if stats.Transformed+stats.Failed > 0 {
		d.logger.Info("transformation pass finished",
			slog.Int("transformed", stats.Transformed),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped))
	}
}

// enqueueScheduledReports admits one report job per active repository and one
// per catalogue project. Scopes still queued or running from the previous
// tick are skipped.
func (d *Daemon) enqueueScheduledReports(ctx context.Context) {
	repos, err := d.registry.ListActive(ctx)
	if err != nil {
		d.logger.Error("listing active repositories failed", logfields.Error(err))
		return
	}
	for _, repo := range repos {
		job := ReportJob{
			ScopeKey:     gold.ScopeKeyRepository(repo.Slug()),
			RepositoryID: repo.ID,
		}
		if err := d.queue.Enqueue(job); err != nil {
			d.logger.Debug("skipping repository report job",
				logfields.Repository(repo.Slug()), logfields.Error(err))
		}
	}

	projects, err := d.catalogue.ListProjects(ctx)
	if err != nil {
		d.logger.Error("listing catalogue projects failed", logfields.Error(err))
		return
	}
	for _, project := range projects {
		job := ReportJob{
			ScopeKey:   gold.ScopeKeyProject(project.Key),
			ProjectKey: project.Key,
		}
		if err := d.queue.Enqueue(job); err != nil {
			d.logger.Debug("skipping project report job",
				logfields.Project(project.Key), logfields.Error(err))
		}
	}
}

// sweepStalled flags repositories whose ingestion has not succeeded within
// the staleness threshold.
func (d *Daemon) sweepStalled(ctx context.Context) {
	stalled, err := d.ingestor.SweepStalled(ctx, d.cfg.StalenessThreshold)
	if err != nil {
		d.logger.Error("staleness sweep failed", logfields.Error(err))
		return
	}
	if len(stalled) > 0 {
		d.logger.Warn("stalled repositories detected", logfields.Count(len(stalled)))
	}
}

// resyncCatalogue reloads the catalogue file and reconciles the registry.
// This covers deployments that disable the file watcher.
func (d *Daemon) resyncCatalogue(ctx context.Context) {
	if err := d.catalogue.Reload(ctx); err != nil {
		d.logger.Error("catalogue reload failed; previous snapshot stays active", logfields.Error(err))
		return
	}
	stats, err := d.registry.SyncFromCatalogue(ctx)
	if err != nil {
		d.logger.Error("catalogue re-sync failed", logfields.Error(err))
		return
	}
	if stats.Created+stats.Enabled+stats.Disabled > 0 {
		d.logger.Info("catalogue re-synchronised",
			slog.Int("created", stats.Created),
			slog.Int("enabled", stats.Enabled),
			slog.Int("disabled", stats.Disabled))
	}
}
