// Package transform refines pending Bronze events into Silver entities and
// canonical event facts via a registry of pure hydrators keyed by event type.
package transform

import (
	"git.home.luguber.info/inful/ghillie/internal/bronze"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// Hydrator turns one raw event into its Silver writes, including the
// canonical event fact. Implementations must be pure: the same event and
// repository always produce the same writes.
type Hydrator func(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error)

// Registry routes event types to hydrators. The key set is closed at
// construction; unknown event types fall back to the record-only hydrator,
// which still produces an event fact.
type Registry struct {
	hydrators map[string]Hydrator
	fallback  Hydrator
}

// NewRegistry builds the registry with every built-in hydrator registered.
func NewRegistry() *Registry {
	r := &Registry{
		hydrators: make(map[string]Hydrator),
		fallback:  hydrateRecordOnly,
	}
	r.register(github.EventPush, hydratePush)
	r.register(github.EventPullRequest, hydratePullRequest)
	r.register(github.EventIssues, hydrateIssue)
	r.register(github.EventIssueComment, hydrateIssueComment)
	r.register(github.EventCommitComment, hydrateRecordOnly)
	return r
}

func (r *Registry) register(eventType string, h Hydrator) {
	r.hydrators[eventType] = h
}

// Resolve returns the hydrator for an event type, falling back to the
// record-only hydrator for unknown types.
func (r *Registry) Resolve(eventType string) Hydrator {
	if h, ok := r.hydrators[eventType]; ok {
		return h
	}
	return r.fallback
}

// Known reports whether the event type has a dedicated hydrator.
func (r *Registry) Known(eventType string) bool {
	_, ok := r.hydrators[eventType]
	return ok
}
