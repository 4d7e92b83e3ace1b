package catalogue

import (
	"context"
	"sync"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// MemoryStore is an in-memory catalogue for tests and small fixed estates.
type MemoryStore struct {
	mu           sync.RWMutex
	projects     []Project
	components   map[string][]Component
	edges        map[string][]ComponentEdge
	repositories []Repository
	reposByID    map[string]Repository
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		components: make(map[string][]Component),
		edges:      make(map[string][]ComponentEdge),
		reposByID:  make(map[string]Repository),
	}
}

// AddRepository registers a managed repository.
func (m *MemoryStore) AddRepository(repo Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reposByID[repo.ID] = repo
	m.repositories = append(m.repositories, repo)
}

// AddProject registers a project with its components and edges.
func (m *MemoryStore) AddProject(project Project, components []Component, edges []ComponentEdge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append(m.projects, project)
	m.components[project.Key] = components
	m.edges[project.Key] = edges
}

func (m *MemoryStore) ListProjects(ctx context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, len(m.projects))
	copy(out, m.projects)
	return out, nil
}

func (m *MemoryStore) ListComponents(ctx context.Context, projectKey string) ([]Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	components, ok := m.components[projectKey]
	if !ok {
		return nil, gerrors.ProjectNotFound(projectKey)
	}
	out := make([]Component, len(components))
	copy(out, components)
	return out, nil
}

func (m *MemoryStore) ListComponentEdges(ctx context.Context, projectKey string) ([]ComponentEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges, ok := m.edges[projectKey]
	if !ok {
		return nil, gerrors.ProjectNotFound(projectKey)
	}
	out := make([]ComponentEdge, len(edges))
	copy(out, edges)
	return out, nil
}

func (m *MemoryStore) ListManagedRepositories(ctx context.Context) ([]Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Repository, len(m.repositories))
	copy(out, m.repositories)
	return out, nil
}

func (m *MemoryStore) ResolveRepository(ctx context.Context, repositoryID string) (*Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	repo, ok := m.reposByID[repositoryID]
	if !ok {
		return nil, nil
	}
	return &repo, nil
}
