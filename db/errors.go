package db

import "errors"

var (
	// ErrClosed is returned by operations on a closed Database.
	ErrClosed = errors.New("db: database is closed")
	// ErrNotFound is returned when a run lookup matches nothing.
	ErrNotFound = errors.New("db: record not found")
)
