package bronze

import (
	"context"
	"database/sql"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Checkpoint is the per-repository ingestion high-water mark.
type Checkpoint struct {
	RepoSlug            string
	LastSuccessAt       *time.Time
	LastEventAt         *time.Time
	ConsecutiveFailures int
}

// GetCheckpoint returns the checkpoint for a repository, or nil when the
// repository has never been polled.
func (s *Store) GetCheckpoint(ctx context.Context, repoSlug string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT repo_slug, last_success_at, last_event_at, consecutive_failures
		 FROM ingest_checkpoints WHERE repo_slug = ?`, repoSlug)
	return scanCheckpoint(row)
}

// RecordSuccess upserts a successful run: sets last_success_at, advances
// last_event_at when newer activity was seen, and clears the failure streak.
func (s *Store) RecordSuccess(ctx context.Context, repoSlug string, at time.Time, lastEventAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastEvent any
	if lastEventAt != nil {
		lastEvent = formatTime(*lastEventAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_checkpoints (repo_slug, last_success_at, last_event_at, consecutive_failures)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (repo_slug) DO UPDATE SET
			last_success_at = excluded.last_success_at,
			last_event_at = COALESCE(excluded.last_event_at, ingest_checkpoints.last_event_at),
			consecutive_failures = 0`,
		repoSlug, formatTime(at), lastEvent,
	)
	if err != nil {
		return gerrors.StorageError("record ingest success", err)
	}
	return nil
}

// RecordFailure upserts a failed run, incrementing the failure streak.
func (s *Store) RecordFailure(ctx context.Context, repoSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_checkpoints (repo_slug, consecutive_failures)
		VALUES (?, 1)
		ON CONFLICT (repo_slug) DO UPDATE SET
			consecutive_failures = ingest_checkpoints.consecutive_failures + 1`,
		repoSlug,
	)
	if err != nil {
		return gerrors.StorageError("record ingest failure", err)
	}
	return nil
}

// ListStalled returns checkpoints whose last success predates the cutoff,
// including repositories that have been polled but never succeeded.
func (s *Store) ListStalled(ctx context.Context, cutoff time.Time) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_slug, last_success_at, last_event_at, consecutive_failures
		FROM ingest_checkpoints
		WHERE last_success_at IS NULL OR last_success_at < ?
		ORDER BY repo_slug`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, gerrors.StorageError("list stalled checkpoints", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

// CountCheckpoints returns the number of tracked repositories.
func (s *Store) CountCheckpoints(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_checkpoints`).Scan(&n); err != nil {
		return 0, gerrors.StorageError("count checkpoints", err)
	}
	return n, nil
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var lastSuccess, lastEvent sql.NullString
	err := row.Scan(&cp.RepoSlug, &lastSuccess, &lastEvent, &cp.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan checkpoint", err)
	}
	if lastSuccess.Valid {
		t, err := parseTime(lastSuccess.String)
		if err != nil {
			return nil, err
		}
		cp.LastSuccessAt = &t
	}
	if lastEvent.Valid {
		t, err := parseTime(lastEvent.String)
		if err != nil {
			return nil, err
		}
		cp.LastEventAt = &t
	}
	return &cp, nil
}
