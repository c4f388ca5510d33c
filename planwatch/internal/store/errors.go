package store

import "errors"

var (
	// ErrNotConfirmed is returned by destructive operations called without
	// an affirmative confirmation. Nothing is changed.
	ErrNotConfirmed = errors.New("store: destructive operation not confirmed")
	// ErrNoConnection is returned when the store has no open database.
	ErrNoConnection = errors.New("store: no database connection")
	// ErrInsertFailed is returned when an insert exhausted its retries on
	// errors other than a uniqueness violation.
	ErrInsertFailed = errors.New("store: insert failed")
)
