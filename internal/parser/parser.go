// Package parser extracts ordered listing candidates from loaded front-page
// documents.
package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

// Result is the outcome of parsing one listing page.
type Result struct {
	Candidates []scraper.Candidate
	// HasMore reports whether the page links to a successor page.
	HasMore bool
}

// Parser turns listing documents into candidates. Pure over its inputs; all
// navigation lives in the Collector.
type Parser struct {
	baseURL string
	logger  *zap.Logger
}

// New builds a Parser. baseURL anchors relative and internal links.
func New(baseURL string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Parse extracts up to max candidates from doc, assigning contiguous ranks
// starting at startRank. A malformed row is skipped with a recoverable-parse
// log and does not consume a rank; zero parsed rows wraps ErrEmptyListing.
func (p *Parser) Parse(doc scraper.Document, max int, startRank int) (Result, error) {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return Result{}, fmt.Errorf("parse listing document: %w", err)
	}

	var candidates []scraper.Candidate
	root.Find("tr.athing").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if len(candidates) >= max {
			return false
		}
		cand, err := p.parseRow(row)
		if err != nil {
			p.logger.Warn("listing row skipped",
				zap.String("url", doc.URL),
				zap.Int("row", i+1),
				zap.Error(err),
			)
			return true
		}
		cand.Rank = startRank + len(candidates)
		candidates = append(candidates, cand)
		return true
	})

	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("no rows parsed from %s: %w", doc.URL, scraper.ErrEmptyListing)
	}

	return Result{
		Candidates: candidates,
		HasMore:    root.Find("a.morelink").Length() > 0,
	}, nil
}

// parseRow extracts one tr.athing row plus its adjacent subtext row.
// ExternalID and title are required; subtext fields default when absent.
func (p *Parser) parseRow(row *goquery.Selection) (scraper.Candidate, error) {
	externalID, ok := row.Attr("id")
	if !ok || externalID == "" {
		return scraper.Candidate{}, fmt.Errorf("row is missing the id attribute")
	}

	titleEl := row.Find("span.titleline > a").First()
	if titleEl.Length() == 0 {
		// Older markup renders the anchor under td.title directly.
		titleEl = row.Find("td.title > a").First()
	}
	title := strings.TrimSpace(titleEl.Text())
	if title == "" {
		return scraper.Candidate{}, fmt.Errorf("row %s has no title", externalID)
	}

	href, _ := titleEl.Attr("href")
	link := p.resolveLink(externalID, href)

	cand := scraper.Candidate{
		ExternalID: externalID,
		Title:      title,
		Link:       link,
	}
	p.parseSubtext(row.Next(), &cand)
	return cand, nil
}

// parseSubtext fills score, author, and reply count from the row following
// tr.athing. Missing fields (job posts) default to score=0, reply_count=0,
// author absent.
func (p *Parser) parseSubtext(subtextRow *goquery.Selection, cand *scraper.Candidate) {
	subtext := subtextRow.Find("td.subtext").First()
	if subtext.Length() == 0 {
		return
	}

	if scoreText := strings.TrimSpace(subtext.Find("span.score").First().Text()); scoreText != "" {
		if n, err := strconv.Atoi(firstToken(scoreText)); err == nil {
			cand.Score = n
		}
	}

	if author := strings.TrimSpace(subtext.Find("a.hnuser").First().Text()); author != "" {
		cand.Author = &author
	}

	links := subtext.Find("a")
	if links.Length() > 0 {
		raw := strings.ReplaceAll(links.Last().Text(), " ", " ")
		if n, err := strconv.Atoi(firstToken(raw)); err == nil {
			cand.ReplyCount = n
		}
	}
}

// resolveLink returns an absolute link, falling back to the source item page
// for internal submissions (Ask/Show posts) so Link is always populated.
func (p *Parser) resolveLink(externalID, href string) string {
	if href == "" || strings.HasPrefix(href, "item?id=") {
		return fmt.Sprintf("%s/item?id=%s", p.baseURL, externalID)
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return fmt.Sprintf("%s/item?id=%s", p.baseURL, externalID)
	}
	if parsed.IsAbs() {
		return href
	}
	return p.baseURL + "/" + strings.TrimLeft(href, "/")
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
