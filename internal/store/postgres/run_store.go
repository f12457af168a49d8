package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

const defaultRunLimit = 50

// RunStore implements scraper.RunStore on Postgres and enforces the
// one-directional run state machine at the SQL level: transitions carry a
// status guard in the WHERE clause so a concurrent or replayed writer can
// never move a run backwards.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

const runColumns = `id, correlation_id, requested_count, status, started_at, finished_at, items_scraped, error_message`

// CreateRun inserts a PENDING run. When a run with the same correlation id
// already exists the existing row is returned unchanged, whatever its
// current status.
func (s *RunStore) CreateRun(ctx context.Context, correlationID string, requestedCount int, startedAt time.Time) (scraper.Run, error) {
	query := fmt.Sprintf(`
INSERT INTO runs (id, correlation_id, requested_count, status, started_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (correlation_id) DO NOTHING
RETURNING %s`, runColumns)

	run, err := s.scanRun(s.pool.QueryRow(ctx, query,
		uuid.New(), correlationID, requestedCount, scraper.RunStatusPending, startedAt))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scraper.Run{}, fmt.Errorf("create run: %w", err)
	}
	// Conflict path: the run was created by an earlier attempt.
	return s.GetRunByCorrelationID(ctx, correlationID)
}

// MarkRunning transitions PENDING -> RUNNING. Re-marking an already
// RUNNING run is a no-op; a terminal run yields TerminalTransitionError.
func (s *RunStore) MarkRunning(ctx context.Context, id uuid.UUID) (scraper.Run, error) {
	query := fmt.Sprintf(`
UPDATE runs SET status = $2
WHERE id = $1 AND status = $3
RETURNING %s`, runColumns)

	run, err := s.scanRun(s.pool.QueryRow(ctx, query, id, scraper.RunStatusRunning, scraper.RunStatusPending))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scraper.Run{}, fmt.Errorf("mark run running: %w", err)
	}
	return s.resolveGuardedMiss(ctx, id, scraper.RunStatusRunning)
}

// FinishRun transitions a live run to COMPLETED or FAILED. Re-applying the
// same terminal status is a no-op; conflicting terminal writes yield
// TerminalTransitionError.
func (s *RunStore) FinishRun(ctx context.Context, id uuid.UUID, status scraper.RunStatus, finishedAt time.Time, itemsScraped *int, errMsg *string) (scraper.Run, error) {
	if !status.Terminal() {
		return scraper.Run{}, fmt.Errorf("finish run: %q is not a terminal status", status)
	}

	query := fmt.Sprintf(`
UPDATE runs SET status = $2, finished_at = $3, items_scraped = $4, error_message = $5
WHERE id = $1 AND status IN ($6, $7)
RETURNING %s`, runColumns)

	run, err := s.scanRun(s.pool.QueryRow(ctx, query,
		id, status, finishedAt, itemsScraped, errMsg,
		scraper.RunStatusPending, scraper.RunStatusRunning))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scraper.Run{}, fmt.Errorf("finish run: %w", err)
	}
	return s.resolveGuardedMiss(ctx, id, status)
}

// resolveGuardedMiss disambiguates a zero-row guarded update: the run is
// either absent, already in the desired state (replay), or terminal.
func (s *RunStore) resolveGuardedMiss(ctx context.Context, id uuid.UUID, desired scraper.RunStatus) (scraper.Run, error) {
	run, err := s.getRunByID(ctx, id)
	if err != nil {
		return scraper.Run{}, err
	}
	if run.Status == desired {
		return run, nil
	}
	if run.Status.Terminal() {
		return scraper.Run{}, &scraper.TerminalTransitionError{
			CorrelationID: run.CorrelationID,
			From:          run.Status,
			To:            desired,
		}
	}
	return scraper.Run{}, fmt.Errorf("run %s: unexpected transition %s -> %s", id, run.Status, desired)
}

func (s *RunStore) getRunByID(ctx context.Context, id uuid.UUID) (scraper.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE id = $1`, runColumns)
	run, err := s.scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Run{}, scraper.ErrRunNotFound
		}
		return scraper.Run{}, fmt.Errorf("get run by id: %w", err)
	}
	return run, nil
}

// GetRunByCorrelationID returns the run for one trigger request.
func (s *RunStore) GetRunByCorrelationID(ctx context.Context, correlationID string) (scraper.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE correlation_id = $1`, runColumns)
	run, err := s.scanRun(s.pool.QueryRow(ctx, query, correlationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Run{}, scraper.ErrRunNotFound
		}
		return scraper.Run{}, fmt.Errorf("get run by correlation id: %w", err)
	}
	return run, nil
}

// ListRuns returns runs most recent first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, filter scraper.RunFilter) ([]scraper.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	query := fmt.Sprintf(`
SELECT %s
FROM runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2`, runColumns)

	rows, err := s.pool.Query(ctx, query, filter.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []scraper.Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func (s *RunStore) scanRun(row pgx.Row) (scraper.Run, error) {
	var run scraper.Run
	err := row.Scan(
		&run.ID,
		&run.CorrelationID,
		&run.RequestedCount,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ItemsScraped,
		&run.ErrorMessage,
	)
	if err != nil {
		return scraper.Run{}, err
	}
	return run, nil
}
