// Package transform promotes pending Bronze events into Silver entities.
// Each event is handled in its own transaction so the event fact and the
// state transition land together or not at all.
package transform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// DefaultBatchSize bounds one transformation pass when the caller does not.
const DefaultBatchSize = 500

// Stats summarises one transformation pass.
type Stats struct {
	Transformed int
	Failed      int
	Skipped     int
}

// VerifyStats summarises one digest verification pass.
type VerifyStats struct {
	Checked    int
	Mismatched int
}

// Service drives the Bronze-to-Silver promotion.
type Service struct {
	db       *sql.DB
	events   *bronze.Store
	entities *silver.Store
	registry *Registry
	logger   *slog.Logger
}

func NewService(db *sql.DB, events *bronze.Store, entities *silver.Store, registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		events:   events,
		entities: entities,
		registry: registry,
		logger:   logger.With(logfields.Component("transform")),
	}
}

// TransformPending processes up to batchSize pending events in occurrence
// order. Events whose repository is not registered yet are skipped and stay
// pending; malformed events are marked failed with a reason.
func (s *Service) TransformPending(ctx context.Context, batchSize int) (Stats, error) {
	var stats Stats
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	pending, err := s.events.ListPending(ctx, batchSize)
	if err != nil {
		return stats, err
	}

	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		outcome, err := s.transformOne(ctx, event)
		if err != nil {
			return stats, err
		}
		switch outcome {
		case outcomeTransformed:
			stats.Transformed++
		case outcomeFailed:
			stats.Failed++
		case outcomeSkipped:
			stats.Skipped++
		}
	}

	if stats.Transformed+stats.Failed+stats.Skipped > 0 {
		s.logger.Info("transformation pass complete",
			slog.Int("transformed", stats.Transformed),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

type transformOutcome int

const (
	outcomeTransformed transformOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (s *Service) transformOne(ctx context.Context, event bronze.RawEvent) (transformOutcome, error) {
	// Crash repair: a fact already written for this event means a previous
	// pass committed the Silver side but not the state flip.
	existing, err := s.entities.FactByRawEventID(ctx, event.ID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if err := s.events.MarkTransformed(ctx, event.ID); err != nil {
			return 0, err
		}
		s.logger.Warn("repaired event with orphaned fact",
			logfields.RawEventID(event.ID),
			logfields.EventFactID(existing.ID),
		)
		return outcomeTransformed, nil
	}

	var envelope github.Envelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return s.failEvent(ctx, event, fmt.Sprintf("invalid payload envelope: %v", err))
	}
	owner, name, err := silver.ParseSlug(envelope.Repository)
	if err != nil {
		return s.failEvent(ctx, event, fmt.Sprintf("invalid repository slug %q", envelope.Repository))
	}

	repo, err := s.entities.GetRepositoryBySlug(ctx, owner, name)
	if err != nil {
		return 0, err
	}
	if repo == nil {
		// Catalogue may register the repository later; leave the event pending.
		s.logger.Debug("skipping event for unregistered repository",
			logfields.RawEventID(event.ID),
			logfields.Repository(envelope.Repository),
		)
		return outcomeSkipped, nil
	}

	writes, err := s.registry.Resolve(event.EventType)(event, *repo)
	if err != nil {
		return s.failEvent(ctx, event, err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, gerrors.StorageError("begin transform transaction", err)
	}
	defer tx.Rollback()

	if err := s.entities.ApplyHydration(ctx, tx, writes); err != nil {
		return 0, err
	}
	if err := s.events.MarkTransformedTx(ctx, tx, event.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, gerrors.StorageError("commit transform transaction", err)
	}
	return outcomeTransformed, nil
}

func (s *Service) failEvent(ctx context.Context, event bronze.RawEvent, reason string) (transformOutcome, error) {
	if err := s.events.MarkFailed(ctx, event.ID, reason); err != nil {
		return 0, err
	}
	s.logger.Warn("event transformation failed",
		logfields.RawEventID(event.ID),
		logfields.EventType(event.EventType),
		slog.String("reason", reason),
	)
	return outcomeFailed, nil
}

// VerifyDigests re-hashes the stored payload of every transformed event and
// compares it against the digest recorded on its fact. Mismatches are marked
// failed with the payload_mismatch reason.
func (s *Service) VerifyDigests(ctx context.Context) (VerifyStats, error) {
	var stats VerifyStats

	transformed, err := s.events.ListByState(ctx, bronze.StateTransformed)
	if err != nil {
		return stats, err
	}

	for _, event := range transformed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++

		fact, err := s.entities.FactByRawEventID(ctx, event.ID)
		if err != nil {
			return stats, err
		}
		if fact != nil && fact.PayloadDigest == bronze.Digest(event.Payload) {
			continue
		}

		stats.Mismatched++
		if err := s.events.MarkFailed(ctx, event.ID, bronze.ReasonPayloadMismatch); err != nil {
			return stats, err
		}
		s.logger.Error("payload digest mismatch",
			logfields.RawEventID(event.ID),
			logfields.EventType(event.EventType),
		)
	}
	return stats, nil
}

