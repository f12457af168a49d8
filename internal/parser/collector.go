package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

// CollectorConfig controls pagination behavior.
type CollectorConfig struct {
	BaseURL    string
	NavTimeout time.Duration
	NavPolicy  scraper.RetryPolicy
}

// Collector drives a Session through successive listing pages until max
// candidates are gathered or the source runs out of pages. Global rank
// ordering is preserved across page boundaries.
type Collector struct {
	parser *Parser
	cfg    CollectorConfig
	logger *zap.Logger
}

// NewCollector builds a Collector around a Parser.
func NewCollector(parser *Parser, cfg CollectorConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{parser: parser, cfg: cfg, logger: logger}
}

// Collect implements scraper.ListingCollector. Requesting more items than
// the source offers returns the shorter list, not an error; zero parsed rows
// on the first page wraps ErrEmptyListing. External ids are unique within
// the returned batch and ranks stay contiguous from 1.
func (c *Collector) Collect(ctx context.Context, sess scraper.Session, max int) ([]scraper.Candidate, error) {
	var all []scraper.Candidate
	seen := make(map[string]bool)
	for page := 1; len(all) < max; page++ {
		doc, err := c.loadPage(ctx, sess, page)
		if err != nil {
			return nil, err
		}

		res, err := c.parser.Parse(doc, max-len(all), len(all)+1)
		if err != nil {
			if page > 1 && errors.Is(err, scraper.ErrEmptyListing) {
				// Later pages running dry means the source is exhausted.
				c.logger.Info("pagination exhausted",
					zap.Int("page", page),
					zap.Int("collected", len(all)),
				)
				break
			}
			return nil, err
		}

		for _, cand := range res.Candidates {
			// A story can slide across the page boundary between the two
			// navigations; the first observation keeps its rank and later
			// sightings are dropped so one batch never repeats an id.
			if seen[cand.ExternalID] {
				c.logger.Info("duplicate listing row skipped",
					zap.String("external_id", cand.ExternalID),
					zap.Int("page", page),
				)
				continue
			}
			seen[cand.ExternalID] = true
			cand.Rank = len(all) + 1
			all = append(all, cand)
		}
		c.logger.Info("listing page parsed",
			zap.Int("page", page),
			zap.Int("rows_on_page", len(res.Candidates)),
			zap.Int("total_so_far", len(all)),
		)
		if !res.HasMore {
			break
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("collect listing: %w", scraper.ErrEmptyListing)
	}
	if len(all) > max {
		all = all[:max]
	}
	return all, nil
}

func (c *Collector) loadPage(ctx context.Context, sess scraper.Session, page int) (scraper.Document, error) {
	url := c.pageURL(page)
	var doc scraper.Document
	err := scraper.Retry(ctx, c.cfg.NavPolicy, 0, func(ctx context.Context) error {
		var loadErr error
		doc, loadErr = sess.Load(ctx, url, c.cfg.NavTimeout)
		return loadErr
	})
	if err != nil {
		return scraper.Document{}, fmt.Errorf("load page %d: %w", page, err)
	}
	return doc, nil
}

func (c *Collector) pageURL(page int) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%s/news?p=%d", base, page)
}
