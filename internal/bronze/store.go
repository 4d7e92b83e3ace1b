package bronze

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Store persists raw events and ingestion checkpoints in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore initializes the Bronze schema on the shared database handle.
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initialize bronze schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_events (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		event_type TEXT NOT NULL,
		external_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		received_at TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		failure_reason TEXT NOT NULL DEFAULT '',
		UNIQUE (source, external_id)
	);
	CREATE INDEX IF NOT EXISTS idx_raw_events_state ON raw_events(state);
	CREATE INDEX IF NOT EXISTS idx_raw_events_occurred ON raw_events(occurred_at);

	CREATE TABLE IF NOT EXISTS ingest_checkpoints (
		repo_slug TEXT PRIMARY KEY,
		last_success_at TEXT,
		last_event_at TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// naiveLayout matches RFC 3339 timestamps missing their offset; used only to
// distinguish a timezone violation from garbage input.
const naiveLayout = "2006-01-02T15:04:05"

func parseOccurredAt(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}
	if _, naiveErr := time.Parse(naiveLayout, value); naiveErr == nil {
		return time.Time{}, gerrors.TimezoneRequired("occurred_at", value)
	}
	return time.Time{}, gerrors.ValidationFailed("occurred_at", fmt.Sprintf("not an RFC 3339 timestamp: %q", value))
}

// Ingest writes one raw event. Duplicates on (source, external_id) are a
// no-op returning OutcomeDuplicate. A naive occurred_at is rejected with a
// timezone_required error and leaves no trace in the store.
func (s *Store) Ingest(ctx context.Context, input IngestInput) (IngestOutcome, error) {
	if input.Source == "" {
		return "", gerrors.ValidationFailed("source", "must not be empty")
	}
	if input.ExternalID == "" {
		return "", gerrors.ValidationFailed("external_id", "must not be empty")
	}
	occurredAt, err := parseOccurredAt(input.OccurredAt)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.Must(uuid.NewV7()).String()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events (id, source, event_type, external_id, payload, received_at, occurred_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, external_id) DO NOTHING`,
		id, input.Source, input.EventType, input.ExternalID, input.Payload,
		formatTime(time.Now()), formatTime(occurredAt), StatePending,
	)
	if err != nil {
		return "", gerrors.StorageError("ingest raw event", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", gerrors.StorageError("ingest raw event", err)
	}
	if affected == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeInserted, nil
}

// GetByID fetches a single raw event.
func (s *Store) GetByID(ctx context.Context, id string) (*RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRawEvent+` WHERE id = ?`, id)
	return scanRawEvent(row)
}

// GetByExternalID fetches by the deduplication key.
func (s *Store) GetByExternalID(ctx context.Context, source, externalID string) (*RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRawEvent+` WHERE source = ? AND external_id = ?`, source, externalID)
	return scanRawEvent(row)
}

// ListPending returns up to limit pending events, oldest occurrence first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectRawEvent+` WHERE state = ? ORDER BY occurred_at, external_id LIMIT ?`,
		StatePending, limit,
	)
	if err != nil {
		return nil, gerrors.StorageError("list pending raw events", err)
	}
	defer rows.Close()

	return scanRawEvents(rows)
}

// ListByState returns every event in the given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state State) ([]RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectRawEvent+` WHERE state = ? ORDER BY occurred_at, external_id`,
		state,
	)
	if err != nil {
		return nil, gerrors.StorageError("list raw events", err)
	}
	defer rows.Close()

	return scanRawEvents(rows)
}

// MarkTransformed transitions a raw event to the transformed state.
func (s *Store) MarkTransformed(ctx context.Context, id string) error {
	return s.setState(ctx, id, StateTransformed, "")
}

// MarkFailed transitions a raw event to failed with the given reason.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.setState(ctx, id, StateFailed, reason)
}

func (s *Store) setState(ctx context.Context, id string, state State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET state = ?, failure_reason = ? WHERE id = ?`,
		state, reason, id,
	)
	if err != nil {
		return gerrors.StorageError("update raw event state", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return gerrors.StorageError("update raw event state", err)
	}
	if affected == 0 {
		return gerrors.StorageError("update raw event state", fmt.Errorf("raw event %s not found", id))
	}
	return nil
}

// MarkTransformedTx transitions a raw event inside the caller's transaction,
// so the state change commits atomically with the Silver writes it pairs with.
func (s *Store) MarkTransformedTx(ctx context.Context, tx *sql.Tx, id string) error {
	return setStateTx(ctx, tx, id, StateTransformed, "")
}

// MarkFailedTx transitions a raw event to failed inside the caller's transaction.
func (s *Store) MarkFailedTx(ctx context.Context, tx *sql.Tx, id, reason string) error {
	return setStateTx(ctx, tx, id, StateFailed, reason)
}

func setStateTx(ctx context.Context, tx *sql.Tx, id string, state State, reason string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE raw_events SET state = ?, failure_reason = ? WHERE id = ?`,
		state, reason, id,
	)
	if err != nil {
		return gerrors.StorageError("update raw event state", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return gerrors.StorageError("update raw event state", err)
	}
	if affected == 0 {
		return gerrors.StorageError("update raw event state", fmt.Errorf("raw event %s not found", id))
	}
	return nil
}

// CountByState returns the number of raw events per lifecycle state.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM raw_events GROUP BY state`)
	if err != nil {
		return nil, gerrors.StorageError("count raw events", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state State
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, gerrors.StorageError("count raw events", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

const selectRawEvent = `SELECT id, source, event_type, external_id, payload, received_at, occurred_at, state, failure_reason FROM raw_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawEvent(row rowScanner) (*RawEvent, error) {
	var e RawEvent
	var receivedAt, occurredAt string
	err := row.Scan(&e.ID, &e.Source, &e.EventType, &e.ExternalID, &e.Payload,
		&receivedAt, &occurredAt, &e.State, &e.FailureReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan raw event", err)
	}
	if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if e.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanRawEvents(rows *sql.Rows) ([]RawEvent, error) {
	var events []RawEvent
	for rows.Next() {
		event, err := scanRawEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
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
