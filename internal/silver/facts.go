package silver

import (
	"context"
	"database/sql"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

const selectFact = `SELECT id, raw_event_id, repo_id, event_type, occurred_at, payload_digest, payload FROM event_facts`

// FactsInWindow returns facts for a repository with occurred_at in
// [start, end), ordered by (occurred_at, id).
func (s *Store) FactsInWindow(ctx context.Context, repoID string, start, end time.Time) ([]EventFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectFact+` WHERE repo_id = ? AND occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at, id`,
		repoID, formatTime(start), formatTime(end),
	)
	if err != nil {
		return nil, gerrors.StorageError("query facts in window", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// FactByRawEventID returns the fact hydrated from the given raw event, or nil.
func (s *Store) FactByRawEventID(ctx context.Context, rawEventID string) (*EventFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectFact+` WHERE raw_event_id = ?`, rawEventID)
	return scanFact(row)
}

// ListFacts returns every fact, oldest first. Used by the integrity pass.
func (s *Store) ListFacts(ctx context.Context) ([]EventFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectFact+` ORDER BY occurred_at, id`)
	if err != nil {
		return nil, gerrors.StorageError("list facts", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// CountFacts returns the total number of event facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_facts`).Scan(&n); err != nil {
		return 0, gerrors.StorageError("count facts", err)
	}
	return n, nil
}

func scanFact(row rowScanner) (*EventFact, error) {
	var f EventFact
	var occurredAt, payload string
	err := row.Scan(&f.ID, &f.RawEventID, &f.RepoID, &f.EventType, &occurredAt, &f.PayloadDigest, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan event fact", err)
	}
	if f.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	f.Payload = []byte(payload)
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]EventFact, error) {
	var facts []EventFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *fact)
	}
	return facts, rows.Err()
}
