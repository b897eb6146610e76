package models

import "fmt"

// ValidationError signals malformed input: unknown IOC types, weight
// configurations that do not sum to 1.0, empty flow IDs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError signals a missing flow or campaign.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError signals a lost optimistic-concurrency race: the stored
// version no longer matches the version the caller read.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("conflict on %s %s: version mismatch", e.Resource, e.ID)
}

// ComputationError signals that scoring failed for a specific flow.
// Analysis treats these as skippable: the pair is recorded and the run
// continues.
type ComputationError struct {
	FlowID string
	Err    error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed for flow %s: %v", e.FlowID, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// PersistenceError wraps storage failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
