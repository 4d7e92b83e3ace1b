package silver

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// ApplyHydration writes one raw event's hydration result inside the caller's
// transaction: entity upserts keyed by natural identifiers, then the
// canonical event fact. Replaying the same writes changes nothing.
func (s *Store) ApplyHydration(ctx context.Context, tx *sql.Tx, w HydrationWrites) error {
	for _, c := range w.Commits {
		if err := upsertCommitTx(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, pr := range w.PullRequests {
		if err := upsertPullRequestTx(ctx, tx, pr); err != nil {
			return err
		}
	}
	for _, issue := range w.Issues {
		if err := upsertIssueTx(ctx, tx, issue); err != nil {
			return err
		}
	}
	for _, dc := range w.DocChanges {
		if err := upsertDocChangeTx(ctx, tx, dc); err != nil {
			return err
		}
	}
	for _, touch := range w.IssueTouches {
		if err := touchIssueTx(ctx, tx, touch); err != nil {
			return err
		}
	}
	return insertFactTx(ctx, tx, w.Fact)
}

func touchIssueTx(ctx context.Context, tx *sql.Tx, touch IssueTouch) error {
	// Only moves the watermark forward; replaying an old touch is a no-op,
	// and a touch for an absent issue writes nothing.
	_, err := tx.ExecContext(ctx,
		`UPDATE issues SET updated_at = ? WHERE repo_id = ? AND number = ? AND updated_at < ?`,
		formatTime(touch.UpdatedAt), touch.RepoID, touch.Number, formatTime(touch.UpdatedAt),
	)
	if err != nil {
		return gerrors.StorageError("touch issue", err)
	}
	return nil
}

func upsertCommitTx(ctx context.Context, tx *sql.Tx, c Commit) error {
	id := c.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	// Commits are immutable: same sha means same content.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commits (id, repo_id, sha, author, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, sha) DO NOTHING`,
		id, c.RepoID, c.SHA, c.Author, c.Message, formatTime(c.CreatedAt),
	)
	if err != nil {
		return gerrors.StorageError("upsert commit", err)
	}
	return nil
}

func upsertPullRequestTx(ctx context.Context, tx *sql.Tx, pr PullRequest) error {
	id := pr.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	labels, err := marshalLabels(pr.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pull_requests (id, repo_id, number, title, author, state, labels, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, number) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			labels = excluded.labels,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`,
		id, pr.RepoID, pr.Number, pr.Title, pr.Author, pr.State, labels,
		formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt), formatNullableTime(pr.ClosedAt),
	)
	if err != nil {
		return gerrors.StorageError("upsert pull request", err)
	}
	return nil
}

func upsertIssueTx(ctx context.Context, tx *sql.Tx, issue Issue) error {
	id := issue.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	labels, err := marshalLabels(issue.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, repo_id, number, title, author, state, labels, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, number) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			labels = excluded.labels,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`,
		id, issue.RepoID, issue.Number, issue.Title, issue.Author, issue.State, labels,
		formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt), formatNullableTime(issue.ClosedAt),
	)
	if err != nil {
		return gerrors.StorageError("upsert issue", err)
	}
	return nil
}

func upsertDocChangeTx(ctx context.Context, tx *sql.Tx, dc DocumentationChange) error {
	id := dc.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documentation_changes (id, repo_id, commit_sha, path, changed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, commit_sha, path) DO NOTHING`,
		id, dc.RepoID, dc.CommitSHA, dc.Path, formatTime(dc.ChangedAt),
	)
	if err != nil {
		return gerrors.StorageError("upsert documentation change", err)
	}
	return nil
}

func insertFactTx(ctx context.Context, tx *sql.Tx, fact EventFact) error {
	id := fact.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	payload := fact.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	// raw_event_id is unique: a crash-recovery replay of an already
	// hydrated event must not mint a second fact.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO event_facts (id, raw_event_id, repo_id, event_type, occurred_at, payload_digest, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raw_event_id) DO NOTHING`,
		id, fact.RawEventID, fact.RepoID, fact.EventType,
		formatTime(fact.OccurredAt), fact.PayloadDigest, string(payload),
	)
	if err != nil {
		return gerrors.StorageError("insert event fact", err)
	}
	return nil
}

// CommitsBySHAs fetches commits by identifier set, regardless of timestamps.
func (s *Store) CommitsBySHAs(ctx context.Context, repoID string, shas []string) ([]Commit, error) {
	if len(shas) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(shas)+1)
	args = append(args, repoID)
	for _, sha := range shas {
		args = append(args, sha)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, sha, author, message, created_at
		FROM commits WHERE repo_id = ? AND sha IN (`+placeholders(len(shas))+`)
		ORDER BY created_at, sha`, args...)
	if err != nil {
		return nil, gerrors.StorageError("query commits", err)
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		var c Commit
		var createdAt string
		if err := rows.Scan(&c.ID, &c.RepoID, &c.SHA, &c.Author, &c.Message, &createdAt); err != nil {
			return nil, gerrors.StorageError("scan commit", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// PullRequestsByNumbers fetches pull requests by identifier set.
func (s *Store) PullRequestsByNumbers(ctx context.Context, repoID string, numbers []int) ([]PullRequest, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(numbers)+1)
	args = append(args, repoID)
	for _, n := range numbers {
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, number, title, author, state, labels, created_at, updated_at, closed_at
		FROM pull_requests WHERE repo_id = ? AND number IN (`+placeholders(len(numbers))+`)
		ORDER BY number`, args...)
	if err != nil {
		return nil, gerrors.StorageError("query pull requests", err)
	}
	defer rows.Close()

	var prs []PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, err
		}
		prs = append(prs, *pr)
	}
	return prs, rows.Err()
}

// IssuesByNumbers fetches issues by identifier set.
func (s *Store) IssuesByNumbers(ctx context.Context, repoID string, numbers []int) ([]Issue, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(numbers)+1)
	args = append(args, repoID)
	for _, n := range numbers {
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, number, title, author, state, labels, created_at, updated_at, closed_at
		FROM issues WHERE repo_id = ? AND number IN (`+placeholders(len(numbers))+`)
		ORDER BY number`, args...)
	if err != nil {
		return nil, gerrors.StorageError("query issues", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var issue Issue
		var labels, createdAt, updatedAt string
		var closedAt sql.NullString
		if err := rows.Scan(&issue.ID, &issue.RepoID, &issue.Number, &issue.Title, &issue.Author,
			&issue.State, &labels, &createdAt, &updatedAt, &closedAt); err != nil {
			return nil, gerrors.StorageError("scan issue", err)
		}
		if err := json.Unmarshal([]byte(labels), &issue.Labels); err != nil {
			return nil, gerrors.StorageError("decode issue labels", err)
		}
		var err error
		if issue.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if issue.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if issue.ClosedAt, err = parseNullableTime(closedAt); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// DocChangesByKeys fetches documentation changes by (commit sha, path) pairs.
func (s *Store) DocChangesByKeys(ctx context.Context, repoID string, keys []DocChangeKey) ([]DocumentationChange, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	shaSet := make(map[string]bool, len(keys))
	wanted := make(map[DocChangeKey]bool, len(keys))
	var shas []string
	for _, k := range keys {
		wanted[k] = true
		if !shaSet[k.CommitSHA] {
			shaSet[k.CommitSHA] = true
			shas = append(shas, k.CommitSHA)
		}
	}

	args := make([]any, 0, len(shas)+1)
	args = append(args, repoID)
	for _, sha := range shas {
		args = append(args, sha)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, commit_sha, path, changed_at
		FROM documentation_changes WHERE repo_id = ? AND commit_sha IN (`+placeholders(len(shas))+`)
		ORDER BY commit_sha, path`, args...)
	if err != nil {
		return nil, gerrors.StorageError("query documentation changes", err)
	}
	defer rows.Close()

	var changes []DocumentationChange
	for rows.Next() {
		var dc DocumentationChange
		var changedAt string
		if err := rows.Scan(&dc.ID, &dc.RepoID, &dc.CommitSHA, &dc.Path, &changedAt); err != nil {
			return nil, gerrors.StorageError("scan documentation change", err)
		}
		if dc.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		// Narrow sha matches down to the exact (sha, path) pairs asked for.
		if wanted[DocChangeKey{CommitSHA: dc.CommitSHA, Path: dc.Path}] {
			changes = append(changes, dc)
		}
	}
	return changes, rows.Err()
}

// CountEntities returns commit/PR/issue/doc-change row counts, used by
// idempotence checks and the status endpoint.
func (s *Store) CountEntities(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, 4)
	for _, table := range []string{"commits", "pull_requests", "issues", "documentation_changes"} {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, gerrors.StorageError("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func scanPullRequest(row rowScanner) (*PullRequest, error) {
	var pr PullRequest
	var labels, createdAt, updatedAt string
	var closedAt sql.NullString
	err := row.Scan(&pr.ID, &pr.RepoID, &pr.Number, &pr.Title, &pr.Author,
		&pr.State, &labels, &createdAt, &updatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan pull request", err)
	}
	if err := json.Unmarshal([]byte(labels), &pr.Labels); err != nil {
		return nil, gerrors.StorageError("decode pull request labels", err)
	}
	if pr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if pr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if pr.ClosedAt, err = parseNullableTime(closedAt); err != nil {
		return nil, err
	}
	return &pr, nil
}
