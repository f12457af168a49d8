package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StepStore persists step checkpoints in the run_steps table. A recorded
// step is immutable: replays hit the ON CONFLICT guard and keep the first
// outcome, which is what makes step re-execution safe to skip.
type StepStore struct {
	pool Pool
}

// NewStepStore wraps an existing pool.
func NewStepStore(pool Pool) (*StepStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StepStore{pool: pool}, nil
}

// Get returns the recorded outcome for (correlationID, stepName), or
// (nil, nil) when the step has not completed yet.
func (s *StepStore) Get(ctx context.Context, correlationID, stepName string) ([]byte, error) {
	query := `SELECT outcome FROM run_steps WHERE correlation_id = $1 AND step_name = $2`
	var outcome []byte
	err := s.pool.QueryRow(ctx, query, correlationID, stepName).Scan(&outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get step checkpoint: %w", err)
	}
	return outcome, nil
}

// Save records a completed step. The first write wins.
func (s *StepStore) Save(ctx context.Context, correlationID, stepName string, outcome []byte) error {
	query := `
INSERT INTO run_steps (correlation_id, step_name, outcome, recorded_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (correlation_id, step_name) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, correlationID, stepName, outcome); err != nil {
		return fmt.Errorf("save step checkpoint: %w", err)
	}
	return nil
}
