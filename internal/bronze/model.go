// Package bronze holds the raw-event tier of the Medallion pipeline:
// append-only externally delivered events with a deduplication key and a
// lifecycle state, plus the per-repository ingestion checkpoints.
package bronze

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// State is the lifecycle state of a raw event.
type State string

const (
	StatePending     State = "pending"
	StateTransformed State = "transformed"
	StateFailed      State = "failed"
)

// Failure reasons recorded on raw events.
const (
	ReasonPayloadMismatch = "payload_mismatch"
)

// RawEvent is an immutable record of an externally delivered event.
// Payload bytes are stored byte-for-byte and never mutated after insert.
type RawEvent struct {
	ID            string
	Source        string
	EventType     string
	ExternalID    string
	Payload       []byte
	ReceivedAt    time.Time
	OccurredAt    time.Time
	State         State
	FailureReason string
}

// Slug-independent identity: (Source, ExternalID) is unique per store.

// IngestInput carries one event across the ingestion boundary. OccurredAt
// arrives as the wire string so the writer can reject naive timestamps
// before they collapse into a zoned time.Time.
type IngestInput struct {
	Source     string
	EventType  string
	ExternalID string
	OccurredAt string
	Payload    []byte
}

// IngestOutcome reports what a write did.
type IngestOutcome string

const (
	OutcomeInserted  IngestOutcome = "inserted"
	OutcomeDuplicate IngestOutcome = "duplicate"
)

// Digest returns the canonical payload digest: xxhash64 as 16 hex digits.
func Digest(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}
