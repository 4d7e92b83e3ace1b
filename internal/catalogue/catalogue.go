// Package catalogue exposes the read-only estate catalogue: projects, their
// components and dependency edges, and the GitHub repositories the estate
// manages. The core never mutates the catalogue; it consumes snapshots
// through the Adapter contract.
package catalogue

import "context"

// Stage is a component's lifecycle stage. The set is open; these are the
// values the heuristics know about.
type Stage string

const (
	StageActive     Stage = "active"
	StagePlanned    Stage = "planned"
	StageDeprecated Stage = "deprecated"
)

// Repository is a catalogue-managed GitHub repository.
type Repository struct {
	ID                 string
	Owner              string
	Name               string
	DocumentationPaths []string
}

// Slug is the owner/name form shared with the Silver tier.
func (r Repository) Slug() string {
	return r.Owner + "/" + r.Name
}

// NoiseFilters are per-project ingestion filters.
type NoiseFilters struct {
	FilterBotAuthors bool
}

// Project groups components for estate reporting.
type Project struct {
	Key          string
	Name         string
	Description  string
	NoiseFilters NoiseFilters
}

// Component is one unit of a project, optionally backed by a catalogue
// repository. Components without a repository contribute lifecycle status
// only.
type Component struct {
	Key          string
	Name         string
	Stage        Stage
	RepositoryID string
}

// ComponentEdge records a relation between two components of the same
// project, e.g. depends_on or blocked_by.
type ComponentEdge struct {
	FromComponent string
	ToComponent   string
	Kind          string
}

// Adapter is the core-facing catalogue contract. Implementations must be
// safe for concurrent use; reads observe a consistent snapshot.
type Adapter interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListComponents(ctx context.Context, projectKey string) ([]Component, error)
	ListComponentEdges(ctx context.Context, projectKey string) ([]ComponentEdge, error)
	ListManagedRepositories(ctx context.Context) ([]Repository, error)
	ResolveRepository(ctx context.Context, repositoryID string) (*Repository, error)
}

// FiltersForSlug merges the noise filters of every project whose components
// reference the repository with the given owner/name slug. Flags combine
// with OR: one project asking for a filter is enough.
func FiltersForSlug(ctx context.Context, adapter Adapter, slug string) (NoiseFilters, error) {
	var merged NoiseFilters

	repos, err := adapter.ListManagedRepositories(ctx)
	if err != nil {
		return merged, err
	}
	ids := make(map[string]bool)
	for _, r := range repos {
		if r.Slug() == slug {
			ids[r.ID] = true
		}
	}
	if len(ids) == 0 {
		return merged, nil
	}

	projects, err := adapter.ListProjects(ctx)
	if err != nil {
		return merged, err
	}
	for _, p := range projects {
		components, err := adapter.ListComponents(ctx, p.Key)
		if err != nil {
			return merged, err
		}
		for _, c := range components {
			if c.RepositoryID != "" && ids[c.RepositoryID] {
				merged.FilterBotAuthors = merged.FilterBotAuthors || p.NoiseFilters.FilterBotAuthors
				break
			}
		}
	}
	return merged, nil
}
