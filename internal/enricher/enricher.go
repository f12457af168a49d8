// Package enricher augments parsed candidates with the text of the most
// prominent reply on each item's discussion page. Enrichment is strictly
// best-effort: a failed or empty fetch never fails the surrounding run.
package enricher

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

// Config controls enrichment fan-out and output shaping.
type Config struct {
	// BaseURL is the site root used to derive discussion page URLs.
	BaseURL string
	// Concurrency bounds parallel detail fetches. Defaults to 4.
	Concurrency int
	// ItemTimeout bounds one fetch+extract cycle. Defaults to 10s.
	ItemTimeout time.Duration
	// MaxReplyChars truncates stored reply text. 0 disables truncation.
	MaxReplyChars int
}

// Enricher implements scraper.Enricher over a DetailFetcher.
type Enricher struct {
	cfg     Config
	fetcher DetailFetcher
	logger  *zap.Logger

	// onFailure is invoked once per candidate whose enrichment failed.
	onFailure func()
}

// New builds an Enricher.
func New(cfg Config, fetcher DetailFetcher, logger *zap.Logger) *Enricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{cfg: cfg, fetcher: fetcher, logger: logger}
}

// OnFailure registers a hook called for each candidate that could not be
// enriched. Used for metrics.
func (e *Enricher) OnFailure(fn func()) {
	e.onFailure = fn
}

// EnrichAll fetches discussion pages for all candidates with bounded
// concurrency and fills TopReply where a reply exists. Input order is
// preserved. The only returned error is context cancellation; individual
// failures are logged and leave TopReply nil.
func (e *Enricher) EnrichAll(ctx context.Context, candidates []scraper.Candidate) ([]scraper.Candidate, error) {
	out := make([]scraper.Candidate, len(candidates))
	copy(out, candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i := range out {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reply, err := e.enrichOne(gctx, out[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("enrichment failed",
					zap.String("external_id", out[i].ExternalID),
					zap.Error(err))
				if e.onFailure != nil {
					e.onFailure()
				}
				return nil
			}
			out[i].TopReply = reply
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("enrichment canceled: %w", err)
	}
	return out, nil
}

// enrichOne returns the leading reply text, or nil when the discussion
// has no replies.
func (e *Enricher) enrichOne(ctx context.Context, c scraper.Candidate) (*string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	defer cancel()

	url := e.detailURL(c.ExternalID)
	body, err := e.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	reply, err := extractTopReply(body)
	if err != nil {
		return nil, fmt.Errorf("extract reply from %s: %w", url, err)
	}
	if reply == "" {
		return nil, nil
	}
	reply = truncate(reply, e.cfg.MaxReplyChars)
	return &reply, nil
}

func (e *Enricher) detailURL(externalID string) string {
	return strings.TrimRight(e.cfg.BaseURL, "/") + "/item?id=" + externalID
}

// extractTopReply pulls the text of the first comment in the discussion
// tree. Returns "" when the page has no comments.
func extractTopReply(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	sel := doc.Find(".comment-tree .athing.comtr .commtext").First()
	if sel.Length() == 0 {
		return "", nil
	}
	// Drop the quoted-reply affordances before extracting text.
	sel.Find(".reply").Remove()
	return strings.TrimSpace(sel.Text()), nil
}

// truncate clips s to at most max runes, appending an ellipsis when
// anything was removed. max <= 0 disables clipping.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
