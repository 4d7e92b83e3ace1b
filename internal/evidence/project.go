package evidence

import (
	"context"

	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// ProjectService builds project bundles by joining the catalogue against
// Silver repositories and their latest Gold summaries.
type ProjectService struct {
	adapter  catalogue.Adapter
	entities *silver.Store
	reports  *gold.Store
}

func NewProjectService(adapter catalogue.Adapter, entities *silver.Store, reports *gold.Store) *ProjectService {
	return &ProjectService{adapter: adapter, entities: entities, reports: reports}
}

// BuildProjectBundle assembles one ComponentEvidence per catalogue component.
// Repository resolution runs as two indexed passes (catalogue repositories,
// Silver repositories), and latest reports are fetched in one batch.
func (s *ProjectService) BuildProjectBundle(ctx context.Context, projectKey string) (*ProjectEvidenceBundle, error) {
	components, err := s.adapter.ListComponents(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	projects, err := s.adapter.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var project *catalogue.Project
	for i := range projects {
		if projects[i].Key == projectKey {
			project = &projects[i]
			break
		}
	}
	if project == nil {
		return nil, gerrors.ProjectNotFound(projectKey)
	}

	catalogueRepos, err := s.adapter.ListManagedRepositories(ctx)
	if err != nil {
		return nil, err
	}
	reposByCatalogueID := make(map[string]catalogue.Repository, len(catalogueRepos))
	for _, repo := range catalogueRepos {
		reposByCatalogueID[repo.ID] = repo
	}

	silverRepos, err := s.entities.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	silverBySlug := make(map[string]silver.Repository, len(silverRepos))
	for _, repo := range silverRepos {
		silverBySlug[repo.Slug()] = repo
	}

	// Resolve each component's repository before fetching reports, so the
	// report lookup is a single batched query.
	resolved := make([]*silver.Repository, len(components))
	var repoIDs []string
	for i, component := range components {
		if component.RepositoryID == "" {
			continue
		}
		catalogueRepo, ok := reposByCatalogueID[component.RepositoryID]
		if !ok {
			continue
		}
		silverRepo, ok := silverBySlug[catalogueRepo.Slug()]
		if !ok {
			continue
		}
		repo := silverRepo
		resolved[i] = &repo
		repoIDs = append(repoIDs, repo.ID)
	}

	latest, err := s.reports.LatestRepositoryReports(ctx, repoIDs)
	if err != nil {
		return nil, err
	}

	bundle := &ProjectEvidenceBundle{Project: *project}
	for i, component := range components {
		ce := ComponentEvidence{Component: component, Repository: resolved[i]}
		if resolved[i] != nil {
			if report, ok := latest[resolved[i].ID]; ok {
				ce.Summary = &ComponentRepositorySummary{
					ReportID:   report.ID,
					Status:     report.MachineSummary.Status,
					Summary:    report.MachineSummary.Summary,
					Highlights: report.MachineSummary.Highlights,
					Risks:      report.MachineSummary.Risks,
					WindowEnd:  report.WindowEnd,
				}
			}
		}
		bundle.Components = append(bundle.Components, ce)
	}

	edges, err := s.adapter.ListComponentEdges(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool, len(components))
	for _, component := range components {
		members[component.Key] = true
	}
	for _, edge := range edges {
		// Cross-project edges are dropped, not errors.
		if !members[edge.FromComponent] || !members[edge.ToComponent] {
			continue
		}
		bundle.Dependencies = append(bundle.Dependencies, ComponentDependencyEvidence{
			FromComponent: edge.FromComponent,
			ToComponent:   edge.ToComponent,
			Kind:          edge.Kind,
		})
	}

	return bundle, nil
}
