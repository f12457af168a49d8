package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

func item(externalID string, rank, score int, observedAt time.Time) scraper.Item {
	return scraper.NewItem(scraper.Candidate{
		ExternalID: externalID,
		Rank:       rank,
		Title:      "Title " + externalID,
		Link:       "https://example.com/" + externalID,
		Score:      score,
	}, observedAt)
}

func TestItemStoreUpsertPreservesIdentityOnConflict(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	ctx := context.Background()
	day1 := time.Unix(1700000000, 0).UTC()
	day2 := day1.Add(24 * time.Hour)

	first := item("42", 1, 100, day1)
	n, err := store.UpsertBatch(ctx, []scraper.Item{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := item("42", 5, 250, day2)
	_, err = store.UpsertBatch(ctx, []scraper.Item{second})
	require.NoError(t, err)

	items, err := store.ListItems(ctx, scraper.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, first.ID, got.ID, "row identity survives re-ingestion")
	assert.Equal(t, day1, got.FirstSeenAt, "first observation timestamp is preserved")
	assert.Equal(t, day2, got.ObservedAt)
	assert.Equal(t, 250, got.Score)
	assert.Equal(t, 5, got.Rank)
}

func TestItemStoreListFilters(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	_, err := store.UpsertBatch(ctx, []scraper.Item{
		item("1", 1, 300, now),
		item("2", 2, 50, now),
		item("3", 3, 120, now),
	})
	require.NoError(t, err)

	minScore := 100
	items, err := store.ListItems(ctx, scraper.ItemFilter{MinScore: &minScore})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ExternalID)
	assert.Equal(t, "3", items[1].ExternalID)

	rankMax := 1
	items, err = store.ListItems(ctx, scraper.ItemFilter{RankMax: &rankMax})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ExternalID)
}

func TestRunStoreCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	first, err := store.CreateRun(ctx, "corr-1", 30, now)
	require.NoError(t, err)
	assert.Equal(t, scraper.RunStatusPending, first.Status)

	again, err := store.CreateRun(ctx, "corr-1", 99, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 30, again.RequestedCount, "existing run is returned unchanged")
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	run, err := store.CreateRun(ctx, "corr-1", 30, now)
	require.NoError(t, err)

	run, err = store.MarkRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, scraper.RunStatusRunning, run.Status)

	// Re-marking is a harmless replay.
	_, err = store.MarkRunning(ctx, run.ID)
	require.NoError(t, err)

	scraped := 30
	done := now.Add(time.Minute)
	run, err = store.FinishRun(ctx, run.ID, scraper.RunStatusCompleted, done, &scraped, nil)
	require.NoError(t, err)
	assert.Equal(t, scraper.RunStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, done, *run.FinishedAt)
	require.NotNil(t, run.ItemsScraped)
	assert.Equal(t, 30, *run.ItemsScraped)
}

func TestRunStoreTerminalTransitionsRejected(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	run, err := store.CreateRun(ctx, "corr-1", 30, now)
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, run.ID)
	require.NoError(t, err)
	_, err = store.FinishRun(ctx, run.ID, scraper.RunStatusCompleted, now, nil, nil)
	require.NoError(t, err)

	// Same terminal state replays cleanly.
	_, err = store.FinishRun(ctx, run.ID, scraper.RunStatusCompleted, now, nil, nil)
	require.NoError(t, err)

	// Conflicting terminal state is an invariant violation.
	_, err = store.FinishRun(ctx, run.ID, scraper.RunStatusFailed, now, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, scraper.ErrTerminalTransition)

	_, err = store.MarkRunning(ctx, run.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, scraper.ErrTerminalTransition)
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()

	_, err := store.GetRunByCorrelationID(ctx, "missing")
	assert.ErrorIs(t, err, scraper.ErrRunNotFound)
}

func TestRunStoreListFiltersByStatus(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	a, err := store.CreateRun(ctx, "corr-a", 30, now)
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, "corr-b", 30, now.Add(time.Minute))
	require.NoError(t, err)

	_, err = store.MarkRunning(ctx, a.ID)
	require.NoError(t, err)
	_, err = store.FinishRun(ctx, a.ID, scraper.RunStatusFailed, now.Add(time.Hour), nil, nil)
	require.NoError(t, err)

	failed := scraper.RunStatusFailed
	runs, err := store.ListRuns(ctx, scraper.RunFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "corr-a", runs[0].CorrelationID)

	runs, err = store.ListRuns(ctx, scraper.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "corr-b", runs[0].CorrelationID, "most recent first")
}

func TestItemStoreUpsertCountsDistinctExternalIDs(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	n, err := store.UpsertBatch(ctx, []scraper.Item{
		item("7", 1, 100, now),
		item("8", 2, 90, now),
		item("7", 3, 110, now.Add(time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := store.ListItems(ctx, scraper.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
}
