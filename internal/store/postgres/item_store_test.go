package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

func sampleItem(externalID string, rank int, observedAt time.Time) scraper.Item {
	return scraper.Item{
		ID:          uuid.New(),
		ExternalID:  externalID,
		Title:       "Title " + externalID,
		Link:        "https://example.com/" + externalID,
		Rank:        rank,
		Score:       120,
		ReplyCount:  4,
		ObservedAt:  observedAt,
		FirstSeenAt: observedAt,
	}
}

func TestUpsertBatchWritesAllRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	items := []scraper.Item{sampleItem("1", 1, now), sampleItem("2", 2, now)}

	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := store.UpsertBatch(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchSingleItemArgs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	author := "pg"
	reply := "nice work"
	item := sampleItem("42", 3, now)
	item.Author = &author
	item.TopReply = &reply

	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			item.ID,
			item.ExternalID,
			item.Title,
			item.Link,
			item.Rank,
			item.Score,
			item.ReplyCount,
			item.Author,
			item.TopReply,
			item.ObservedAt,
			item.FirstSeenAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.UpsertBatch(context.Background(), []scraper.Item{item})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	n, err := store.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsAppliesFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	minScore, rankMax := 100, 10
	id := uuid.New()

	rows := pgxmock.NewRows([]string{
		"id", "external_id", "title", "link", "rank", "score", "reply_count",
		"author", "top_reply", "observed_at", "first_seen_at",
	}).AddRow(id, "42", "Title 42", "https://example.com/42", 3, 120, 4,
		(*string)(nil), (*string)(nil), now, now)

	mock.ExpectQuery("SELECT (.+) FROM items").
		WithArgs(&minScore, (*int)(nil), &rankMax, 25).
		WillReturnRows(rows)

	items, err := store.ListItems(context.Background(), scraper.ItemFilter{
		Limit:    25,
		MinScore: &minScore,
		RankMax:  &rankMax,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "42", items[0].ExternalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsDefaultLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "external_id", "title", "link", "rank", "score", "reply_count",
		"author", "top_reply", "observed_at", "first_seen_at",
	})

	mock.ExpectQuery("SELECT (.+) FROM items").
		WithArgs((*int)(nil), (*int)(nil), (*int)(nil), defaultItemLimit).
		WillReturnRows(rows)

	items, err := store.ListItems(context.Background(), scraper.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchCollapsesRepeatedExternalID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	first := sampleItem("7", 30, now)
	second := sampleItem("7", 31, now.Add(time.Minute))
	second.Score = 300

	// One statement, one row: the later observation wins and the conflict
	// target is never touched twice.
	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			second.ID,
			second.ExternalID,
			second.Title,
			second.Link,
			second.Rank,
			second.Score,
			second.ReplyCount,
			second.Author,
			second.TopReply,
			second.ObservedAt,
			second.FirstSeenAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.UpsertBatch(context.Background(), []scraper.Item{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
