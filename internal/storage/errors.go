package storage

import (
	"errors"
	"fmt"
)

// ErrIO is returned when a channel or marker file cannot be created, written,
// flushed or read. Losing an append breaks the append-only guarantee, so it
// always propagates to the caller.
var ErrIO = errors.New("storage: io failure")

// ParseError describes a stored line that is not a valid event record.
// It is logged and the line is skipped; it never aborts a replay.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("storage: %s:%d: malformed record: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func ioErr(action, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, action, path, err)
}
