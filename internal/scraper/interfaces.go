package scraper

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session owns one isolated browser context for the duration of a run.
// Load failures capture a diagnostic snapshot best-effort before returning.
type Session interface {
	// Load navigates to url and returns the rendered document. Errors wrap
	// ErrNavigationTimeout or ErrNavigationError.
	Load(ctx context.Context, url string, timeout time.Duration) (Document, error)
	// Close releases the underlying browser context. Idempotent; must be
	// called even when an earlier step failed.
	Close() error
}

// SessionFactory opens one Session per run. Open failures wrap
// ErrSessionUnavailable.
type SessionFactory interface {
	Open(ctx context.Context, correlationID string) (Session, error)
}

// ListingCollector turns a live session into ordered candidates, paginating
// until max is reached or the source is exhausted. Zero parsed rows wraps
// ErrEmptyListing.
type ListingCollector interface {
	Collect(ctx context.Context, sess Session, max int) ([]Candidate, error)
}

// Enricher augments candidates with a best-effort top reply. It never
// returns an item-level error; a failed enrichment leaves TopReply nil.
// Rank order of the input is preserved in the output. The returned error is
// non-nil only when ctx is cancelled before all items were attempted, in
// which case the slice holds the candidates processed so far.
type Enricher interface {
	EnrichAll(ctx context.Context, candidates []Candidate) ([]Candidate, error)
}

// ItemStore persists items keyed by external id.
type ItemStore interface {
	// UpsertBatch inserts or overwrites one row per candidate. Safe to call
	// repeatedly with the same batch. Returns the number of rows written.
	UpsertBatch(ctx context.Context, items []Item) (int, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
}

// RunStore persists run lifecycle records and enforces the state machine.
type RunStore interface {
	// CreateRun inserts a PENDING run. Idempotent on correlationID: a retry
	// after a transient failure returns the existing row unchanged.
	CreateRun(ctx context.Context, correlationID string, requestedCount int, startedAt time.Time) (Run, error)
	// MarkRunning transitions PENDING -> RUNNING. A run already terminal
	// yields a TerminalTransitionError.
	MarkRunning(ctx context.Context, id uuid.UUID) (Run, error)
	// FinishRun transitions RUNNING -> COMPLETED/FAILED. Idempotent when
	// re-applied with the same terminal state; any other transition out of
	// a terminal state yields a TerminalTransitionError.
	FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, finishedAt time.Time, itemsScraped *int, errMsg *string) (Run, error)
	GetRunByCorrelationID(ctx context.Context, correlationID string) (Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// ArtifactSink stores diagnostic artifacts (failure screenshots). Writes are
// best-effort from the caller's point of view but the sink itself reports
// errors so they can be logged.
type ArtifactSink interface {
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injected so orchestration stays
// deterministic under test).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
