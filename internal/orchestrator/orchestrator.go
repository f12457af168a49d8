// Package orchestrator drives one scrape run end to end: run record
// creation, browser-backed listing collection, best-effort enrichment, and
// idempotent persistence. Every side-effecting step is recorded in the
// step log, so a restarted worker replays the recorded prefix and resumes
// at the first unrecorded step instead of repeating completed work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/metrics"
	"github.com/newsdeck/hn-ingest/internal/scraper"
	"github.com/newsdeck/hn-ingest/internal/steplog"
)

// Step names recorded in the step log. Renaming one invalidates replay of
// in-flight runs.
const (
	stepCreateRun      = "create-run"
	stepMarkRunning    = "mark-running"
	stepCollectListing = "collect-listing"
	stepPersistBatch   = "persist-batch"
	enrichStepPrefix   = "enrich:"
)

// Config carries the orchestration-level retry and timeout knobs. Per-page
// navigation and per-item enrichment timeouts live with their components.
type Config struct {
	RetryMaxAttempts int
	SessionTimeout   time.Duration
	CollectTimeout   time.Duration
	PersistTimeout   time.Duration
}

// Deps are the collaborators one Orchestrator drives. Publisher is
// optional; everything else is required.
type Deps struct {
	Sessions  scraper.SessionFactory
	Collector scraper.ListingCollector
	Enricher  scraper.Enricher
	Items     scraper.ItemStore
	Runs      scraper.RunStore
	Steps     steplog.Store
	Publisher scraper.Publisher
	Topic     string
	Clock     scraper.Clock
	Logger    *zap.Logger
}

// Orchestrator sequences the pipeline steps for individual runs. It is
// safe for concurrent use; each Execute call owns its own session and
// step recorder.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// RunEvent is the payload published when a run reaches a terminal state.
type RunEvent struct {
	CorrelationID string     `json:"correlation_id"`
	Status        string     `json:"status"`
	ItemsScraped  int        `json:"items_scraped"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil, deps.Collector == nil, deps.Enricher == nil,
		deps.Items == nil, deps.Runs == nil, deps.Steps == nil, deps.Clock == nil:
		return nil, fmt.Errorf("orchestrator: missing required dependency")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Execute runs the full pipeline for one correlation id. Calling it again
// with the same id resumes from the recorded step history. Terminal run
// outcomes are always written back to the run store before returning; the
// returned error reports why a FAILED run failed.
func (o *Orchestrator) Execute(ctx context.Context, correlationID string, requestedCount int) (scraper.RunOutcome, error) {
	if correlationID == "" {
		return scraper.RunOutcome{}, fmt.Errorf("correlation id is required")
	}
	if requestedCount <= 0 {
		return scraper.RunOutcome{}, fmt.Errorf("requested count must be positive, got %d", requestedCount)
	}

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	logger := o.deps.Logger.With(zap.String("correlation_id", correlationID))
	rec := steplog.NewRecorder(o.deps.Steps, correlationID, logger)
	policy := scraper.NewExponentialRetryPolicy(o.cfg.RetryMaxAttempts)

	run, err := timedStep(ctx, rec, stepCreateRun, func(ctx context.Context) (scraper.Run, error) {
		var out scraper.Run
		err := scraper.Retry(ctx, policy, o.cfg.PersistTimeout, func(ctx context.Context) error {
			r, err := o.deps.Runs.CreateRun(ctx, correlationID, requestedCount, o.deps.Clock.Now())
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		// No run record exists yet, so there is nothing to finalize.
		return scraper.RunOutcome{}, fmt.Errorf("run %s: %w", correlationID, err)
	}

	run, err = timedStep(ctx, rec, stepMarkRunning, func(ctx context.Context) (scraper.Run, error) {
		var out scraper.Run
		err := scraper.Retry(ctx, policy, o.cfg.PersistTimeout, func(ctx context.Context) error {
			r, err := o.deps.Runs.MarkRunning(ctx, run.ID)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return o.fail(ctx, logger, run, err, nil)
	}

	candidates, err := timedStep(ctx, rec, stepCollectListing, func(ctx context.Context) ([]scraper.Candidate, error) {
		return o.collect(ctx, policy, correlationID, requestedCount)
	})
	if err != nil {
		return o.fail(ctx, logger, run, err, nil)
	}
	logger.Info("listing collected", zap.Int("candidates", len(candidates)))

	enriched, salvageable, err := o.enrich(ctx, rec, candidates)
	if err != nil {
		return o.fail(ctx, logger, run, err, salvageable)
	}

	written, err := timedStep(ctx, rec, stepPersistBatch, func(ctx context.Context) (int, error) {
		var n int
		err := scraper.Retry(ctx, policy, o.cfg.PersistTimeout, func(ctx context.Context) error {
			m, err := o.deps.Items.UpsertBatch(ctx, o.buildItems(enriched))
			if err != nil {
				return err
			}
			n = m
			return nil
		})
		return n, err
	})
	if err != nil {
		return o.fail(ctx, logger, run, err, nil)
	}
	metrics.ObserveItemsUpserted(written)

	run, err = o.finishRun(ctx, run, scraper.RunStatusCompleted, &written, nil)
	if err != nil {
		logger.Error("finalizing completed run failed", zap.Error(err))
		return scraper.RunOutcome{}, err
	}
	logger.Info("run completed", zap.Int("items_scraped", written))
	o.publish(ctx, logger, run)
	metrics.ObserveRunFinished(string(run.Status))
	return scraper.RunOutcome{Run: run, ItemsScraped: written}, nil
}

// collect opens a fresh browser session and paginates the listing. The
// whole open-and-collect cycle retries as a unit so a crashed or wedged
// browser context is never reused after a fault.
func (o *Orchestrator) collect(ctx context.Context, policy scraper.RetryPolicy, correlationID string, requestedCount int) ([]scraper.Candidate, error) {
	var out []scraper.Candidate
	err := scraper.Retry(ctx, policy, o.cfg.CollectTimeout, func(ctx context.Context) error {
		openCtx := ctx
		if o.cfg.SessionTimeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
			defer cancel()
		}
		sess, err := o.deps.Sessions.Open(openCtx, correlationID)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.Close(); cerr != nil {
				o.deps.Logger.Warn("session close failed", zap.Error(cerr))
			}
		}()

		got, err := o.deps.Collector.Collect(ctx, sess, requestedCount)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	return out, err
}

// enrich runs the best-effort detail pass with one recorded step per
// candidate. Already-recorded candidates are decoded from the step log
// and skipped by the fetch fan-out. The second return value is the
// salvageable subset: candidates whose enrichment outcome is durably
// recorded, in rank order, safe to persist even when the run is aborted.
func (o *Orchestrator) enrich(ctx context.Context, rec *steplog.Recorder, candidates []scraper.Candidate) ([]scraper.Candidate, []scraper.Candidate, error) {
	pending := make([]scraper.Candidate, 0, len(candidates))
	pendingIDs := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		done, err := rec.Recorded(ctx, enrichStepPrefix+c.ExternalID)
		if err != nil {
			return nil, nil, err
		}
		if !done {
			pending = append(pending, c)
			pendingIDs[c.ExternalID] = true
		}
	}

	enrichedPending, enrichErr := o.deps.Enricher.EnrichAll(ctx, pending)
	byID := make(map[string]scraper.Candidate, len(enrichedPending))
	for _, c := range enrichedPending {
		byID[c.ExternalID] = c
	}

	// On cancellation the step log reads below must still succeed so the
	// recorded prefix can be salvaged.
	recordCtx := ctx
	if enrichErr != nil {
		recordCtx = context.WithoutCancel(ctx)
	}

	out := make([]scraper.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if enrichErr != nil && pendingIDs[c.ExternalID] {
			continue
		}
		got, err := steplog.StepWithResult(recordCtx, rec, enrichStepPrefix+c.ExternalID, func(context.Context) (scraper.Candidate, error) {
			return byID[c.ExternalID], nil
		})
		if err != nil {
			return nil, out, err
		}
		out = append(out, got)
	}
	if enrichErr != nil {
		return nil, out, enrichErr
	}
	return out, out, nil
}

// fail finalizes a run as FAILED. Candidates already fully processed are
// persisted best-effort first, so a cancelled run keeps what it earned.
// Terminal-transition violations are surfaced as-is: they mean the state
// machine was broken and must never be folded into a normal failure.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, run scraper.Run, cause error, salvage []scraper.Candidate) (scraper.RunOutcome, error) {
	if errors.Is(cause, scraper.ErrTerminalTransition) {
		logger.Error("run state machine violated", zap.Error(cause))
		return scraper.RunOutcome{}, cause
	}

	cleanupCtx := context.WithoutCancel(ctx)
	scraped := 0
	if len(salvage) > 0 {
		n, err := o.deps.Items.UpsertBatch(cleanupCtx, o.buildItems(salvage))
		if err != nil {
			logger.Warn("salvage persist failed", zap.Error(err))
		} else {
			scraped = n
			metrics.ObserveItemsUpserted(n)
		}
	}

	msg := cause.Error()
	run, err := o.finishRun(cleanupCtx, run, scraper.RunStatusFailed, &scraped, &msg)
	if err != nil {
		logger.Error("finalizing failed run failed", zap.Error(err))
		return scraper.RunOutcome{}, errors.Join(cause, err)
	}
	logger.Warn("run failed",
		zap.String("error", msg),
		zap.Int("items_salvaged", scraped),
	)
	o.publish(cleanupCtx, logger, run)
	metrics.ObserveRunFinished(string(run.Status))
	return scraper.RunOutcome{Run: run, ItemsScraped: scraped}, cause
}

func (o *Orchestrator) finishRun(ctx context.Context, run scraper.Run, status scraper.RunStatus, scraped *int, msg *string) (scraper.Run, error) {
	policy := scraper.NewExponentialRetryPolicy(o.cfg.RetryMaxAttempts)
	var out scraper.Run
	err := scraper.Retry(ctx, policy, o.cfg.PersistTimeout, func(ctx context.Context) error {
		r, err := o.deps.Runs.FinishRun(ctx, run.ID, status, o.deps.Clock.Now(), scraped, msg)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (o *Orchestrator) buildItems(candidates []scraper.Candidate) []scraper.Item {
	observedAt := o.deps.Clock.Now()
	items := make([]scraper.Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, scraper.NewItem(c, observedAt))
	}
	return items
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, run scraper.Run) {
	if o.deps.Publisher == nil {
		return
	}
	scraped := 0
	if run.ItemsScraped != nil {
		scraped = *run.ItemsScraped
	}
	event := RunEvent{
		CorrelationID: run.CorrelationID,
		Status:        string(run.Status),
		ItemsScraped:  scraped,
		FinishedAt:    run.FinishedAt,
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.deps.Topic, event); err != nil {
		logger.Warn("run event publish failed", zap.Error(err))
	}
}

// timedStep wraps StepWithResult with a duration observation. Package
// level because Go does not allow generic methods.
func timedStep[T any](ctx context.Context, rec *steplog.Recorder, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := steplog.StepWithResult(ctx, rec, name, fn)
	metrics.ObserveStep(name, time.Since(start))
	return v, err
}
