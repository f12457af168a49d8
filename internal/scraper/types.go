// Package scraper defines core types shared across subsystems.
package scraper

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

// Run status values persisted in the run store. Transitions are
// one-directional: PENDING -> RUNNING -> {COMPLETED, FAILED}.
const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is the persisted record of one end-to-end pipeline execution.
type Run struct {
	ID             uuid.UUID  `json:"id"`
	CorrelationID  string     `json:"correlation_id"`
	RequestedCount int        `json:"requested_count"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ItemsScraped   *int       `json:"items_scraped,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// Candidate is an in-memory parsed listing row, not yet persisted.
// Optional fields are explicit pointers; absence is never implicit.
type Candidate struct {
	ExternalID string  `json:"external_id"`
	Rank       int     `json:"rank"`
	Title      string  `json:"title"`
	Link       string  `json:"link"`
	Score      int     `json:"score"`
	ReplyCount int     `json:"reply_count"`
	Author     *string `json:"author,omitempty"`
	TopReply   *string `json:"top_reply,omitempty"`
}

// Item is the persisted form of a Candidate. ExternalID is the business
// key; all dedup and upsert logic keys on it, never on ID.
type Item struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Rank        int       `json:"rank"`
	Score       int       `json:"score"`
	ReplyCount  int       `json:"reply_count"`
	Author      *string   `json:"author,omitempty"`
	TopReply    *string   `json:"top_reply,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// NewItem builds an Item from an enriched Candidate. FirstSeenAt is set to
// observedAt here; the store preserves the original value on conflict.
func NewItem(c Candidate, observedAt time.Time) Item {
	return Item{
		ID:          uuid.New(),
		ExternalID:  c.ExternalID,
		Title:       c.Title,
		Link:        c.Link,
		Rank:        c.Rank,
		Score:       c.Score,
		ReplyCount:  c.ReplyCount,
		Author:      c.Author,
		TopReply:    c.TopReply,
		ObservedAt:  observedAt,
		FirstSeenAt: observedAt,
	}
}

// Document is a loaded listing or detail page snapshot handed from the
// extraction session to the parser.
type Document struct {
	URL  string
	HTML string
}

// RunOutcome summarizes a finished orchestration for the trigger path.
type RunOutcome struct {
	Run          Run
	ItemsScraped int
}

// ItemFilter narrows ListItems results. Zero values mean "no constraint"
// except Limit, which defaults at the store when <= 0.
type ItemFilter struct {
	Limit    int
	MinScore *int
	RankMin  *int
	RankMax  *int
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Limit  int
	Status *RunStatus
}
