package workflow

import "errors"

var (
	// ErrNoPendingInterrupt is returned by Resume when the thread is not suspended.
	ErrNoPendingInterrupt = errors.New("no pending interrupt")
	// ErrThreadBusy is returned when another invocation holds the thread.
	ErrThreadBusy = errors.New("thread busy")
	// ErrThreadNotFound is returned for threads without checkpoints.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadExists is returned by Submit for a thread id already in use.
	ErrThreadExists = errors.New("thread already exists")
	// ErrInvalidAction is returned for resume actions other than approve or deny.
	ErrInvalidAction = errors.New("invalid resume action")
	// ErrExport wraps exporter failures after the report row is marked failed.
	ErrExport = errors.New("report export failed")
	// ErrStepLimit is returned when a run exceeds the configured step budget.
	ErrStepLimit = errors.New("workflow step limit exceeded")
	// ErrEmptyQuery is returned by Submit without a query.
	ErrEmptyQuery = errors.New("query is required")
)
