package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

// fakeSession serves pre-rendered pages keyed by URL.
type fakeSession struct {
	pages map[string]string
	loads []string
}

func (s *fakeSession) Load(_ context.Context, url string, _ time.Duration) (scraper.Document, error) {
	s.loads = append(s.loads, url)
	html, ok := s.pages[url]
	if !ok {
		return scraper.Document{}, fmt.Errorf("load %s: %w", url, scraper.ErrNavigationError)
	}
	return scraper.Document{URL: url, HTML: html}, nil
}

func (s *fakeSession) Close() error { return nil }

func pageOfRows(firstID, count int, more bool) string {
	var rows strings.Builder
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%d", firstID+i)
		rows.WriteString(listingRow(id, "Story "+id, "https://example.com/"+id, fullSubtext(id, "1", "u", "0")))
	}
	return wrapPage(rows.String(), more)
}

func newCollector() *Collector {
	return NewCollector(
		New(baseURL, zap.NewNop()),
		CollectorConfig{
			BaseURL:    baseURL,
			NavTimeout: time.Second,
			NavPolicy:  scraper.NewExponentialRetryPolicy(1),
		},
		zap.NewNop(),
	)
}

func TestCollectSpansPagesWithoutRankReset(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{pages: map[string]string{
		baseURL:             pageOfRows(1000, 30, true),
		baseURL + "/news?p=2": pageOfRows(2000, 30, true),
	}}

	got, err := newCollector().Collect(context.Background(), sess, 50)
	require.NoError(t, err)
	require.Len(t, got, 50)
	require.Equal(t, []string{baseURL, baseURL + "/news?p=2"}, sess.loads)

	for i, cand := range got {
		require.Equal(t, i+1, cand.Rank)
	}
	require.Equal(t, "1000", got[0].ExternalID)
	require.Equal(t, "2000", got[30].ExternalID)

	seen := make(map[string]bool, len(got))
	for _, cand := range got {
		require.False(t, seen[cand.ExternalID], "duplicate external id %s", cand.ExternalID)
		seen[cand.ExternalID] = true
	}
}

func TestCollectStopsWhenSourceExhausted(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{pages: map[string]string{
		baseURL: pageOfRows(1, 12, false),
	}}

	got, err := newCollector().Collect(context.Background(), sess, 50)
	require.NoError(t, err)
	require.Len(t, got, 12)
	require.Equal(t, []string{baseURL}, sess.loads)
}

func TestCollectEmptyFirstPageFailsHard(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{pages: map[string]string{
		baseURL: wrapPage("", false),
	}}

	_, err := newCollector().Collect(context.Background(), sess, 10)
	require.ErrorIs(t, err, scraper.ErrEmptyListing)
}

func TestCollectSinglePageHonorsMax(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{pages: map[string]string{
		baseURL: pageOfRows(1, 30, true),
	}}

	got, err := newCollector().Collect(context.Background(), sess, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	require.Equal(t, []string{baseURL}, sess.loads)
}

func TestCollectDropsStoryRepeatedAcrossPages(t *testing.T) {
	t.Parallel()

	// Story 30 sits at the bottom of page one when it is fetched and has
	// slid to the top of page two by the time that page loads.
	var overlap strings.Builder
	overlap.WriteString(listingRow("30", "Story 30", "https://example.com/30", fullSubtext("30", "1", "u", "0")))
	for i := 31; i <= 60; i++ {
		id := fmt.Sprintf("%d", i)
		overlap.WriteString(listingRow(id, "Story "+id, "https://example.com/"+id, fullSubtext(id, "1", "u", "0")))
	}

	sess := &fakeSession{pages: map[string]string{
		baseURL:               pageOfRows(1, 30, true),
		baseURL + "/news?p=2": wrapPage(overlap.String(), true),
		baseURL + "/news?p=3": pageOfRows(61, 30, true),
	}}

	got, err := newCollector().Collect(context.Background(), sess, 50)
	require.NoError(t, err)
	require.Len(t, got, 50)

	counts := make(map[string]int, len(got))
	for i, cand := range got {
		require.Equal(t, i+1, cand.Rank)
		counts[cand.ExternalID]++
	}
	for id, n := range counts {
		require.Equalf(t, 1, n, "external id %s appears %d times in one batch", id, n)
	}
	require.Equal(t, "30", got[29].ExternalID)
	require.Equal(t, "31", got[30].ExternalID)
	require.Equal(t, "61", got[49].ExternalID)
}
