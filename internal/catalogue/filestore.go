package catalogue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// supportedVersion is the catalogue document version this loader accepts.
const supportedVersion = 1

// FileStore serves the catalogue from a YAML file. Reload parses the file
// into a fresh snapshot and swaps it atomically, so readers mid-call keep a
// consistent view.
type FileStore struct {
	path string

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	projects     []Project
	components   map[string][]Component
	edges        map[string][]ComponentEdge
	repositories []Repository
	reposByID    map[string]Repository
	revision     string
}

// NewFileStore loads the catalogue file once and fails fast on a broken
// document.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the catalogue file and swaps the snapshot. On error the
// previous snapshot stays in place.
func (s *FileStore) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return gerrors.New(gerrors.CategoryConfig, gerrors.SeverityFatal,
			fmt.Sprintf("catalogue file not found: %s", s.path))
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal, "read catalogue file")
	}

	// Environment variables are expanded before parsing, same as the main
	// configuration loader.
	expanded := os.ExpandEnv(string(data))

	var doc document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal, "parse catalogue file")
	}

	snap, err := buildSnapshot(doc)
	if err != nil {
		return err
	}
	snap.revision = fmt.Sprintf("%016x", xxhash.Sum64(data))

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Revision identifies the currently loaded catalogue content.
func (s *FileStore) Revision() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.revision
}

func (s *FileStore) current() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *FileStore) ListProjects(ctx context.Context) ([]Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.current()
	out := make([]Project, len(snap.projects))
	copy(out, snap.projects)
	return out, nil
}

func (s *FileStore) ListComponents(ctx context.Context, projectKey string) ([]Component, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.current()
	components, ok := snap.components[projectKey]
	if !ok {
		return nil, gerrors.ProjectNotFound(projectKey)
	}
	out := make([]Component, len(components))
	copy(out, components)
	return out, nil
}

func (s *FileStore) ListComponentEdges(ctx context.Context, projectKey string) ([]ComponentEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.current()
	edges, ok := snap.edges[projectKey]
	if !ok {
		return nil, gerrors.ProjectNotFound(projectKey)
	}
	out := make([]ComponentEdge, len(edges))
	copy(out, edges)
	return out, nil
}

func (s *FileStore) ListManagedRepositories(ctx context.Context) ([]Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.current()
	out := make([]Repository, len(snap.repositories))
	copy(out, snap.repositories)
	return out, nil
}

func (s *FileStore) ResolveRepository(ctx context.Context, repositoryID string) (*Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.current()
	repo, ok := snap.reposByID[repositoryID]
	if !ok {
		return nil, nil
	}
	return &repo, nil
}

// document is the on-disk YAML schema.
type document struct {
	Version      int             `yaml:"version"`
	Projects     []projectDoc    `yaml:"projects"`
	Repositories []repositoryDoc `yaml:"repositories"`
}

type projectDoc struct {
	Key          string          `yaml:"key"`
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description"`
	NoiseFilters noiseFiltersDoc `yaml:"noise_filters"`
	Components   []componentDoc  `yaml:"components"`
	Edges        []edgeDoc       `yaml:"edges"`
}

type noiseFiltersDoc struct {
	FilterBotAuthors bool `yaml:"filter_bot_authors"`
}

type componentDoc struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	Stage      string `yaml:"stage"`
	Repository string `yaml:"repository"`
}

type edgeDoc struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Kind string `yaml:"kind"`
}

type repositoryDoc struct {
	ID                 string   `yaml:"id"`
	Owner              string   `yaml:"owner"`
	Name               string   `yaml:"name"`
	DocumentationPaths []string `yaml:"documentation_paths"`
}

// buildSnapshot validates the document and assembles the lookup maps.
// Violations accumulate so one load reports everything wrong with the file.
func buildSnapshot(doc document) (*snapshot, error) {
	var violations []error

	if doc.Version != supportedVersion {
		violations = append(violations,
			fmt.Errorf("unsupported catalogue version %d (expected %d)", doc.Version, supportedVersion))
	}

	snap := &snapshot{
		components: make(map[string][]Component),
		edges:      make(map[string][]ComponentEdge),
		reposByID:  make(map[string]Repository),
	}

	for i, rd := range doc.Repositories {
		switch {
		case rd.ID == "":
			violations = append(violations, fmt.Errorf("repositories[%d]: missing id", i))
			continue
		case rd.Owner == "" || rd.Name == "":
			violations = append(violations, fmt.Errorf("repository %q: owner and name are required", rd.ID))
			continue
		}
		if _, dup := snap.reposByID[rd.ID]; dup {
			violations = append(violations, fmt.Errorf("repository %q: duplicate id", rd.ID))
			continue
		}
		repo := Repository{
			ID:                 rd.ID,
			Owner:              rd.Owner,
			Name:               rd.Name,
			DocumentationPaths: rd.DocumentationPaths,
		}
		snap.reposByID[rd.ID] = repo
		snap.repositories = append(snap.repositories, repo)
	}

	projectKeys := make(map[string]bool)
	for i, pd := range doc.Projects {
		if pd.Key == "" {
			violations = append(violations, fmt.Errorf("projects[%d]: missing key", i))
			continue
		}
		if projectKeys[pd.Key] {
			violations = append(violations, fmt.Errorf("project %q: duplicate key", pd.Key))
			continue
		}
		projectKeys[pd.Key] = true

		snap.projects = append(snap.projects, Project{
			Key:         pd.Key,
			Name:        pd.Name,
			Description: pd.Description,
			NoiseFilters: NoiseFilters{
				FilterBotAuthors: pd.NoiseFilters.FilterBotAuthors,
			},
		})

		componentKeys := make(map[string]bool)
		components := make([]Component, 0, len(pd.Components))
		for _, cd := range pd.Components {
			if cd.Key == "" {
				violations = append(violations, fmt.Errorf("project %q: component with missing key", pd.Key))
				continue
			}
			if componentKeys[cd.Key] {
				violations = append(violations, fmt.Errorf("project %q: duplicate component %q", pd.Key, cd.Key))
				continue
			}
			componentKeys[cd.Key] = true

			if cd.Repository != "" {
				if _, ok := snap.reposByID[cd.Repository]; !ok {
					violations = append(violations,
						fmt.Errorf("project %q: component %q references unknown repository %q", pd.Key, cd.Key, cd.Repository))
				}
			}
			stage := Stage(cd.Stage)
			if stage == "" {
				stage = StageActive
			}
			components = append(components, Component{
				Key:          cd.Key,
				Name:         cd.Name,
				Stage:        stage,
				RepositoryID: cd.Repository,
			})
		}
		snap.components[pd.Key] = components

		edges := make([]ComponentEdge, 0, len(pd.Edges))
		for _, ed := range pd.Edges {
			if !componentKeys[ed.From] || !componentKeys[ed.To] {
				violations = append(violations,
					fmt.Errorf("project %q: edge %s -> %s references unknown component", pd.Key, ed.From, ed.To))
				continue
			}
			kind := ed.Kind
			if kind == "" {
				kind = "depends_on"
			}
			edges = append(edges, ComponentEdge{FromComponent: ed.From, ToComponent: ed.To, Kind: kind})
		}
		snap.edges[pd.Key] = edges
	}

	if len(violations) > 0 {
		return nil, gerrors.Wrap(errors.Join(violations...),
			gerrors.CategoryConfig, gerrors.SeverityFatal, "invalid catalogue")
	}
	return snap, nil
}
