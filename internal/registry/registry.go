// Package registry reconciles the estate catalogue into the Silver
// repository table and owns the ingestion_enabled flag.
package registry

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// SyncStats summarises one reconciliation pass.
type SyncStats struct {
	Created   int
	Enabled   int
	Disabled  int
	Unchanged int
}

// Registry keeps Silver repositories in step with the catalogue.
type Registry struct {
	adapter  catalogue.Adapter
	entities *silver.Store
	logger   *slog.Logger
}

func New(adapter catalogue.Adapter, entities *silver.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapter:  adapter,
		entities: entities,
		logger:   logger.With(logfields.Component("registry")),
	}
}

// SyncFromCatalogue creates Silver rows for new catalogue repositories,
// re-enables rows that reappeared, and disables rows the catalogue no longer
// manages. Disabled rows keep their history; nothing is deleted.
func (r *Registry) SyncFromCatalogue(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	managed, err := r.adapter.ListManagedRepositories(ctx)
	if err != nil {
		return stats, err
	}
	existing, err := r.entities.ListRepositories(ctx)
	if err != nil {
		return stats, err
	}

	existingBySlug := make(map[string]silver.Repository, len(existing))
	for _, repo := range existing {
		existingBySlug[repo.Slug()] = repo
	}

	managedSlugs := make(map[string]bool, len(managed))
	for _, repo := range managed {
		managedSlugs[repo.Slug()] = true

		prev, known := existingBySlug[repo.Slug()]
		if _, err := r.entities.UpsertRepository(ctx, silver.Repository{
			GithubOwner:        repo.Owner,
			GithubName:         repo.Name,
			DocumentationPaths: repo.DocumentationPaths,
			IngestionEnabled:   true,
		}); err != nil {
			return stats, err
		}

		switch {
		case !known:
			stats.Created++
			r.logger.Info("registered repository", logfields.Repository(repo.Slug()))
		case !prev.IngestionEnabled:
			stats.Enabled++
			r.logger.Info("re-enabled repository", logfields.Repository(repo.Slug()))
		default:
			stats.Unchanged++
		}
	}

	for _, repo := range existing {
		if managedSlugs[repo.Slug()] || !repo.IngestionEnabled {
			continue
		}
		if err := r.entities.SetIngestionEnabled(ctx, repo.GithubOwner, repo.GithubName, false); err != nil {
			return stats, err
		}
		stats.Disabled++
		r.logger.Info("disabled repository absent from catalogue", logfields.Repository(repo.Slug()))
	}

	return stats, nil
}

// Enable turns ingestion on for an owner/name slug.
func (r *Registry) Enable(ctx context.Context, slug string) error {
	owner, name, err := silver.ParseSlug(slug)
	if err != nil {
		return err
	}
	return r.entities.SetIngestionEnabled(ctx, owner, name, true)
}

// Disable turns ingestion off for an owner/name slug.
func (r *Registry) Disable(ctx context.Context, slug string) error {
	owner, name, err := silver.ParseSlug(slug)
	if err != nil {
		return err
	}
	return r.entities.SetIngestionEnabled(ctx, owner, name, false)
}

// ListActive returns the repositories currently open for ingestion.
func (r *Registry) ListActive(ctx context.Context) ([]silver.Repository, error) {
	return r.entities.ListActiveRepositories(ctx)
}

// ResolveSilverRepository follows a catalogue repository id to its Silver
// row. Returns nil when either hop is missing.
func (r *Registry) ResolveSilverRepository(ctx context.Context, catalogueRepoID string) (*silver.Repository, error) {
	repo, err := r.adapter.ResolveRepository(ctx, catalogueRepoID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, nil
	}
	return r.entities.GetRepositoryBySlug(ctx, repo.Owner, repo.Name)
}
