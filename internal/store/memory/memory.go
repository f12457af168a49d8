// Package memory provides in-process store implementations used for local
// development and tests. They mirror the Postgres stores' semantics,
// including idempotent creation and guarded run transitions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

const (
	defaultItemLimit = 100
	defaultRunLimit  = 50
)

// ItemStore implements scraper.ItemStore in memory, keyed by external id.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]scraper.Item
}

// NewItemStore builds an empty store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]scraper.Item)}
}

// UpsertBatch overwrites existing rows except id and first_seen_at, which
// keep the values from the first observation.
func (s *ItemStore) UpsertBatch(_ context.Context, items []scraper.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := make(map[string]bool, len(items))
	for _, it := range items {
		if existing, ok := s.items[it.ExternalID]; ok {
			it.ID = existing.ID
			it.FirstSeenAt = existing.FirstSeenAt
		}
		s.items[it.ExternalID] = it
		written[it.ExternalID] = true
	}
	return len(written), nil
}

// ListItems returns items most recently observed first, rank ascending
// within one observation.
func (s *ItemStore) ListItems(_ context.Context, filter scraper.ItemFilter) ([]scraper.Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultItemLimit
	}

	s.mu.RLock()
	out := make([]scraper.Item, 0, len(s.items))
	for _, it := range s.items {
		if filter.MinScore != nil && it.Score < *filter.MinScore {
			continue
		}
		if filter.RankMin != nil && it.Rank < *filter.RankMin {
			continue
		}
		if filter.RankMax != nil && it.Rank > *filter.RankMax {
			continue
		}
		out = append(out, it)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].Rank < out[j].Rank
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunStore implements scraper.RunStore in memory.
type RunStore struct {
	mu     sync.RWMutex
	byCorr map[string]*scraper.Run
	byID   map[uuid.UUID]*scraper.Run
}

// NewRunStore builds an empty store.
func NewRunStore() *RunStore {
	return &RunStore{
		byCorr: make(map[string]*scraper.Run),
		byID:   make(map[uuid.UUID]*scraper.Run),
	}
}

// CreateRun inserts a PENDING run, or returns the existing run for the
// correlation id unchanged.
func (s *RunStore) CreateRun(_ context.Context, correlationID string, requestedCount int, startedAt time.Time) (scraper.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byCorr[correlationID]; ok {
		return *existing, nil
	}
	run := &scraper.Run{
		ID:             uuid.New(),
		CorrelationID:  correlationID,
		RequestedCount: requestedCount,
		Status:         scraper.RunStatusPending,
		StartedAt:      startedAt,
	}
	s.byCorr[correlationID] = run
	s.byID[run.ID] = run
	return *run, nil
}

// MarkRunning transitions PENDING -> RUNNING. Re-marking a RUNNING run is
// a no-op; terminal runs yield TerminalTransitionError.
func (s *RunStore) MarkRunning(_ context.Context, id uuid.UUID) (scraper.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byID[id]
	if !ok {
		return scraper.Run{}, scraper.ErrRunNotFound
	}
	switch {
	case run.Status == scraper.RunStatusPending:
		run.Status = scraper.RunStatusRunning
	case run.Status == scraper.RunStatusRunning:
		// replay
	default:
		return scraper.Run{}, &scraper.TerminalTransitionError{
			CorrelationID: run.CorrelationID,
			From:          run.Status,
			To:            scraper.RunStatusRunning,
		}
	}
	return *run, nil
}

// FinishRun transitions a live run to a terminal status. Re-applying the
// same terminal status is a no-op.
func (s *RunStore) FinishRun(_ context.Context, id uuid.UUID, status scraper.RunStatus, finishedAt time.Time, itemsScraped *int, errMsg *string) (scraper.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byID[id]
	if !ok {
		return scraper.Run{}, scraper.ErrRunNotFound
	}
	if run.Status.Terminal() {
		if run.Status == status {
			return *run, nil
		}
		return scraper.Run{}, &scraper.TerminalTransitionError{
			CorrelationID: run.CorrelationID,
			From:          run.Status,
			To:            status,
		}
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.ItemsScraped = itemsScraped
	run.ErrorMessage = errMsg
	return *run, nil
}

// GetRunByCorrelationID returns the run for one trigger request.
func (s *RunStore) GetRunByCorrelationID(_ context.Context, correlationID string) (scraper.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.byCorr[correlationID]
	if !ok {
		return scraper.Run{}, scraper.ErrRunNotFound
	}
	return *run, nil
}

// ListRuns returns runs most recent first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, filter scraper.RunFilter) ([]scraper.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	s.mu.RLock()
	out := make([]scraper.Run, 0, len(s.byID))
	for _, run := range s.byID {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, *run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
