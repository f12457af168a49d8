package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

const defaultItemLimit = 100

// ItemStore implements scraper.ItemStore on Postgres. Rows are keyed by
// external_id; id and first_seen_at survive re-ingestion of the same item.
type ItemStore struct {
	pool Pool
}

// NewItemStore wraps an existing pool.
func NewItemStore(pool Pool) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

const itemColumns = `id, external_id, title, link, rank, score, reply_count, author, top_reply, observed_at, first_seen_at`

// UpsertBatch writes all items in one statement. Conflicting external ids
// are overwritten except for id and first_seen_at, which keep their
// original values. Returns the number of rows written.
func (s *ItemStore) UpsertBatch(ctx context.Context, items []scraper.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	// Postgres rejects a multi-row INSERT whose ON CONFLICT target matches
	// the same row twice, so repeated external ids collapse to the last
	// observation before the statement is built.
	items = dedupeByExternalID(items)

	const fieldsPerRow = 11
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*fieldsPerRow)
	for i, it := range items {
		base := i * fieldsPerRow
		placeholders := make([]string, fieldsPerRow)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ",")+")")
		args = append(args,
			it.ID,
			it.ExternalID,
			it.Title,
			it.Link,
			it.Rank,
			it.Score,
			it.ReplyCount,
			it.Author,
			it.TopReply,
			it.ObservedAt,
			it.FirstSeenAt,
		)
	}

	query := fmt.Sprintf(`
INSERT INTO items (%s)
VALUES %s
ON CONFLICT (external_id) DO UPDATE SET
	title = EXCLUDED.title,
	link = EXCLUDED.link,
	rank = EXCLUDED.rank,
	score = EXCLUDED.score,
	reply_count = EXCLUDED.reply_count,
	author = EXCLUDED.author,
	top_reply = EXCLUDED.top_reply,
	observed_at = EXCLUDED.observed_at`, itemColumns, strings.Join(values, ","))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// dedupeByExternalID keeps the last observation per external id, at the
// position of the first.
func dedupeByExternalID(items []scraper.Item) []scraper.Item {
	idx := make(map[string]int, len(items))
	out := make([]scraper.Item, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ExternalID]; ok {
			out[i] = it
			continue
		}
		idx[it.ExternalID] = len(out)
		out = append(out, it)
	}
	return out
}

// ListItems returns items matching the filter, most recently observed
// first, rank ascending within one observation.
func (s *ItemStore) ListItems(ctx context.Context, filter scraper.ItemFilter) ([]scraper.Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultItemLimit
	}

	query := fmt.Sprintf(`
SELECT %s
FROM items
WHERE ($1::int IS NULL OR score >= $1)
  AND ($2::int IS NULL OR rank >= $2)
  AND ($3::int IS NULL OR rank <= $3)
ORDER BY observed_at DESC, rank ASC
LIMIT $4`, itemColumns)

	rows, err := s.pool.Query(ctx, query, filter.MinScore, filter.RankMin, filter.RankMax, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []scraper.Item
	for rows.Next() {
		var it scraper.Item
		if err := rows.Scan(
			&it.ID,
			&it.ExternalID,
			&it.Title,
			&it.Link,
			&it.Rank,
			&it.Score,
			&it.ReplyCount,
			&it.Author,
			&it.TopReply,
			&it.ObservedAt,
			&it.FirstSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}
