package scraper

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Callers classify with
// errors.Is; wrapped detail travels via fmt.Errorf("%w", ...).
var (
	// ErrSessionUnavailable means the browser could not be launched or a
	// per-run context could not be created after bounded retries.
	ErrSessionUnavailable = errors.New("extraction session unavailable")

	// ErrNavigationTimeout means a page load exceeded its deadline.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrNavigationError covers navigation failures other than timeouts:
	// transport errors, HTTP error statuses, unexpected page identity.
	ErrNavigationError = errors.New("navigation error")

	// ErrEmptyListing means zero rows parsed from the listing document.
	// Fatal to the run; individual malformed rows are merely skipped.
	ErrEmptyListing = errors.New("empty listing")

	// ErrTerminalTransition is an internal invariant violation: an attempt
	// to move a run out of COMPLETED or FAILED. Never retried, never
	// swallowed.
	ErrTerminalTransition = errors.New("transition out of terminal run state")

	// ErrRunNotFound means no run matched the given identifier.
	ErrRunNotFound = errors.New("run not found")
)

// TerminalTransitionError carries the offending states alongside
// ErrTerminalTransition for loud surfacing.
type TerminalTransitionError struct {
	CorrelationID string
	From          RunStatus
	To            RunStatus
}

func (e *TerminalTransitionError) Error() string {
	return fmt.Sprintf("run %s: invalid transition %s -> %s: %v",
		e.CorrelationID, e.From, e.To, ErrTerminalTransition)
}

// Unwrap lets errors.Is(err, ErrTerminalTransition) match.
func (e *TerminalTransitionError) Unwrap() error { return ErrTerminalTransition }
