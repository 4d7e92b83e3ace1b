package silver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Store persists Silver entities and event facts in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore initializes the Silver schema on the shared database handle.
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initialize silver schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		github_owner TEXT NOT NULL,
		github_name TEXT NOT NULL,
		documentation_paths TEXT NOT NULL DEFAULT '[]',
		ingestion_enabled INTEGER NOT NULL DEFAULT 1,
		UNIQUE (github_owner, github_name)
	);

	CREATE TABLE IF NOT EXISTS commits (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		sha TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (repo_id, sha)
	);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'open',
		labels TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		closed_at TEXT,
		UNIQUE (repo_id, number)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'open',
		labels TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		closed_at TEXT,
		UNIQUE (repo_id, number)
	);

	CREATE TABLE IF NOT EXISTS documentation_changes (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		path TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		UNIQUE (repo_id, commit_sha, path)
	);

	CREATE TABLE IF NOT EXISTS event_facts (
		id TEXT PRIMARY KEY,
		raw_event_id TEXT NOT NULL UNIQUE,
		repo_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		payload_digest TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_event_facts_repo_occurred ON event_facts(repo_id, occurred_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertRepository creates or refreshes a repository row keyed by
// (github_owner, github_name), returning the stored row.
func (s *Store) UpsertRepository(ctx context.Context, repo Repository) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := json.Marshal(repo.DocumentationPaths)
	if err != nil {
		return nil, gerrors.StorageError("marshal documentation paths", err)
	}

	id := repo.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, github_owner, github_name, documentation_paths, ingestion_enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (github_owner, github_name) DO UPDATE SET
			documentation_paths = excluded.documentation_paths,
			ingestion_enabled = excluded.ingestion_enabled`,
		id, repo.GithubOwner, repo.GithubName, string(paths), boolToInt(repo.IngestionEnabled),
	)
	if err != nil {
		return nil, gerrors.StorageError("upsert repository", err)
	}

	return s.getRepositoryBySlugLocked(ctx, repo.GithubOwner, repo.GithubName)
}

// GetRepositoryBySlug returns the repository for owner/name, or nil.
func (s *Store) GetRepositoryBySlug(ctx context.Context, owner, name string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRepositoryBySlugLocked(ctx, owner, name)
}

func (s *Store) getRepositoryBySlugLocked(ctx context.Context, owner, name string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx,
		selectRepository+` WHERE github_owner = ? AND github_name = ?`, owner, name)
	return scanRepository(row)
}

// GetRepositoryByID returns the repository with the given id, or nil.
func (s *Store) GetRepositoryByID(ctx context.Context, id string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRepository+` WHERE id = ?`, id)
	return scanRepository(row)
}

// ListRepositories returns all repositories ordered by slug.
func (s *Store) ListRepositories(ctx context.Context) ([]Repository, error) {
	return s.listRepositories(ctx, selectRepository+` ORDER BY github_owner, github_name`)
}

// ListActiveRepositories returns repositories with ingestion enabled.
func (s *Store) ListActiveRepositories(ctx context.Context) ([]Repository, error) {
	return s.listRepositories(ctx,
		selectRepository+` WHERE ingestion_enabled = 1 ORDER BY github_owner, github_name`)
}

func (s *Store) listRepositories(ctx context.Context, query string) ([]Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, gerrors.StorageError("list repositories", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

// SetIngestionEnabled flips the ingestion flag for a repository.
func (s *Store) SetIngestionEnabled(ctx context.Context, owner, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET ingestion_enabled = ? WHERE github_owner = ? AND github_name = ?`,
		boolToInt(enabled), owner, name,
	)
	if err != nil {
		return gerrors.StorageError("set ingestion flag", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return gerrors.StorageError("set ingestion flag", err)
	}
	if affected == 0 {
		return gerrors.RepositoryNotFound(owner + "/" + name)
	}
	return nil
}

const selectRepository = `SELECT id, github_owner, github_name, documentation_paths, ingestion_enabled FROM repositories`

func scanRepository(row rowScanner) (*Repository, error) {
	var r Repository
	var paths string
	var enabled int
	err := row.Scan(&r.ID, &r.GithubOwner, &r.GithubName, &paths, &enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan repository", err)
	}
	if err := json.Unmarshal([]byte(paths), &r.DocumentationPaths); err != nil {
		return nil, gerrors.StorageError("decode documentation paths", err)
	}
	r.IngestionEnabled = enabled != 0
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, gerrors.StorageError("parse stored timestamp", err)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", gerrors.StorageError("marshal labels", err)
	}
	return string(data), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
