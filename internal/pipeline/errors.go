package pipeline

import (
	"errors"
	"fmt"
)

// ErrAlreadyProcessed marks a file whose fingerprint has a success record
// in the ledger. Not a failure; callers log and move on.
var ErrAlreadyProcessed = errors.New("already processed")

// ErrInProgress marks a file another goroutine is currently running.
var ErrInProgress = errors.New("processing in progress")

// ValidationError rejects an input before any capability is called.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Path, e.Reason)
}

// PersistenceError wraps a failure to write artifacts or ledger state
// after the capabilities already succeeded.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
