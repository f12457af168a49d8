// Package steplog provides a persisted step log for replay-safe
// orchestration. Each step records its outcome under (correlation id,
// step name); on replay the recorded outcome is returned instead of
// re-executing the step, so completed side effects are never repeated.
package steplog

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Store persists step outcomes. Get returns (nil, nil) when no outcome has
// been recorded for the step.
type Store interface {
	Get(ctx context.Context, correlationID, stepName string) ([]byte, error)
	Save(ctx context.Context, correlationID, stepName string, outcome []byte) error
}

// Recorder scopes a Store to one run and numbers steps monotonically.
type Recorder struct {
	store         Store
	correlationID string
	logger        *zap.Logger
	nextIndex     int
}

// NewRecorder builds a Recorder for one run.
func NewRecorder(store Store, correlationID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, correlationID: correlationID, logger: logger}
}

// CorrelationID returns the run identifier this recorder is scoped to.
func (r *Recorder) CorrelationID() string { return r.correlationID }

// Step runs a side-effecting step with no result. If the step was already
// recorded it is skipped.
func (r *Recorder) Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := StepWithResult(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Recorded reports whether a step outcome already exists.
func (r *Recorder) Recorded(ctx context.Context, name string) (bool, error) {
	data, err := r.store.Get(ctx, r.correlationID, name)
	if err != nil {
		return false, fmt.Errorf("get step %q: %w", name, err)
	}
	return data != nil, nil
}

// StepWithResult runs a step returning a typed value. Outcomes are JSON
// encoded; on replay the cached value is decoded and returned without
// re-executing fn. A package-level generic function because Go does not
// allow generic methods.
func StepWithResult[T any](ctx context.Context, r *Recorder, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	index := r.nextIndex
	r.nextIndex++

	data, err := r.store.Get(ctx, r.correlationID, name)
	if err != nil {
		return zero, fmt.Errorf("step %q: get checkpoint: %w", name, err)
	}
	if data != nil {
		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("step %q: decode checkpoint: %w", name, err)
		}
		r.logger.Debug("skipping recorded step",
			zap.String("correlation_id", r.correlationID),
			zap.String("step", name),
			zap.Int("step_index", index),
		)
		return result, nil
	}

	result, stepErr := fn(ctx)
	if stepErr != nil {
		return zero, fmt.Errorf("step %q: %w", name, stepErr)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("step %q: encode outcome: %w", name, err)
	}
	if err := r.store.Save(ctx, r.correlationID, name, encoded); err != nil {
		return zero, fmt.Errorf("step %q: save checkpoint: %w", name, err)
	}
	return result, nil
}
