package service

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient credits")
	ErrInvalidDuration     = errors.New("duration must be 5, 10, or 15 seconds")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConflict            = errors.New("conflict")
	ErrInvalidAmount       = errors.New("invalid credit amount")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTooManyActiveJobs   = errors.New("too many active jobs")
	ErrLedgerMismatch      = errors.New("ledger does not reconcile with balance")
	ErrRunnerUnavailable   = errors.New("job runner rejected submission")
)
