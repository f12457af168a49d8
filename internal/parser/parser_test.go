package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

const baseURL = "https://news.ycombinator.com"

func listingRow(id, title, href, subtext string) string {
	return fmt.Sprintf(`
<tr class="athing submission" id="%s">
  <td class="title"><span class="rank">1.</span></td>
  <td class="votelinks"></td>
  <td class="title"><span class="titleline"><a href="%s">%s</a></span></td>
</tr>
<tr>
  <td colspan="2"></td>
  <td class="subtext"><span class="subline">%s</span></td>
</tr>`, id, href, title, subtext)
}

func fullSubtext(id, points, user, comments string) string {
	return fmt.Sprintf(
		`<span class="score" id="score_%s">%s points</span> by <a class="hnuser">%s</a>`+
			` <span class="age"><a href="item?id=%s">2 hours ago</a></span>`+
			` | <a href="item?id=%s">%s&nbsp;comments</a>`,
		id, points, user, id, id, comments)
}

func wrapPage(rows string, more bool) string {
	morelink := ""
	if more {
		morelink = `<a class="morelink" href="news?p=2">More</a>`
	}
	return `<html><head><title>Hacker News</title></head><body><table>` +
		rows + `</table>` + morelink + `</body></html>`
}

func TestParseFullRows(t *testing.T) {
	t.Parallel()

	html := wrapPage(
		listingRow("101", "First Story", "https://example.com/a", fullSubtext("101", "120", "alice", "45"))+
			listingRow("102", "Second Story", "https://example.com/b", fullSubtext("102", "80", "bob", "12")),
		true,
	)

	p := New(baseURL, zap.NewNop())
	res, err := p.Parse(scraper.Document{URL: baseURL, HTML: html}, 10, 1)
	require.NoError(t, err)
	require.True(t, res.HasMore)
	require.Len(t, res.Candidates, 2)

	first := res.Candidates[0]
	require.Equal(t, "101", first.ExternalID)
	require.Equal(t, 1, first.Rank)
	require.Equal(t, "First Story", first.Title)
	require.Equal(t, "https://example.com/a", first.Link)
	require.Equal(t, 120, first.Score)
	require.Equal(t, 45, first.ReplyCount)
	require.NotNil(t, first.Author)
	require.Equal(t, "alice", *first.Author)

	require.Equal(t, 2, res.Candidates[1].Rank)
}

func TestParseDefaultsForMissingSubtext(t *testing.T) {
	t.Parallel()

	// Job posts render no score, no user, no comment link.
	html := wrapPage(listingRow("201", "Hiring Engineers", "https://jobs.example.com", ""), false)

	p := New(baseURL, zap.NewNop())
	res, err := p.Parse(scraper.Document{URL: baseURL, HTML: html}, 10, 1)
	require.NoError(t, err)
	require.False(t, res.HasMore)
	require.Len(t, res.Candidates, 1)

	cand := res.Candidates[0]
	require.Equal(t, 0, cand.Score)
	require.Equal(t, 0, cand.ReplyCount)
	require.Nil(t, cand.Author)
	require.Nil(t, cand.TopReply)
}

func TestParseInternalLinkFallsBackToItemURL(t *testing.T) {
	t.Parallel()

	html := wrapPage(listingRow("301", "Ask HN: Anyone?", "item?id=301", fullSubtext("301", "5", "carol", "3")), false)

	p := New(baseURL, zap.NewNop())
	res, err := p.Parse(scraper.Document{URL: baseURL, HTML: html}, 10, 1)
	require.NoError(t, err)
	require.Equal(t, baseURL+"/item?id=301", res.Candidates[0].Link)
}

func TestParseSkipsMalformedRowAndKeepsRanksContiguous(t *testing.T) {
	t.Parallel()

	malformed := `
<tr class="athing" id="401">
  <td class="title"><span class="titleline"><a href="https://example.com/x"></a></span></td>
</tr><tr><td class="subtext"></td></tr>`
	html := wrapPage(
		listingRow("400", "Good One", "https://example.com/g", fullSubtext("400", "10", "dan", "1"))+
			malformed+
			listingRow("402", "Good Two", "https://example.com/h", fullSubtext("402", "20", "eve", "2")),
		false,
	)

	p := New(baseURL, zap.NewNop())
	res, err := p.Parse(scraper.Document{URL: baseURL, HTML: html}, 10, 1)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	require.Equal(t, []int{1, 2}, []int{res.Candidates[0].Rank, res.Candidates[1].Rank})
	require.Equal(t, "402", res.Candidates[1].ExternalID)
}

func TestParseZeroRowsIsEmptyListing(t *testing.T) {
	t.Parallel()

	p := New(baseURL, zap.NewNop())
	_, err := p.Parse(scraper.Document{URL: baseURL, HTML: "<html><body>maintenance</body></html>"}, 10, 1)
	require.ErrorIs(t, err, scraper.ErrEmptyListing)
}

func TestParseRespectsMaxAndStartRank(t *testing.T) {
	t.Parallel()

	var rows strings.Builder
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("%d", 500+i)
		rows.WriteString(listingRow(id, "Story "+id, "https://example.com/"+id, fullSubtext(id, "1", "u", "0")))
	}

	p := New(baseURL, zap.NewNop())
	res, err := p.Parse(scraper.Document{URL: baseURL, HTML: wrapPage(rows.String(), true)}, 3, 31)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	require.Equal(t, 31, res.Candidates[0].Rank)
	require.Equal(t, 33, res.Candidates[2].Rank)
}
