package core

import (
	"context"
	"time"
)

// LogSource gives access to a service's log stream.
type LogSource interface {
	// Name returns the source's identifier (e.g., "journald", "file").
	Name() string

	// ReadHistory returns the last lineCount lines in chronological order.
	// A query that cannot start or exits non-zero yields ErrSourceUnavailable.
	ReadHistory(ctx context.Context, unit string, lineCount int) ([]LogLine, error)

	// TailLive starts following the log, optionally replaying the last
	// lineCount lines first. The caller must Close the returned Tail.
	TailLive(ctx context.Context, unit string, lineCount int) (Tail, error)
}

// Tail is a live, pollable log stream.
type Tail interface {
	// Poll waits at most wait for the next line. ok is false when nothing
	// arrived in time. err is io.EOF once the stream ended cleanly, or wraps
	// ErrSourceUnavailable when the underlying reader failed.
	Poll(ctx context.Context, wait time.Duration) (line LogLine, ok bool, err error)

	// Close releases the underlying reader. It is safe to call more than once.
	Close() error
}

// ProcessTerminator stops running processes matched by a pattern.
type ProcessTerminator interface {
	// Terminate stops every process whose command line matches pattern and
	// returns the PIDs it signalled. ErrNoMatchingProcess is returned when
	// nothing matched.
	Terminate(ctx context.Context, pattern string) ([]int, error)
}

// ServiceRestarter asks the host service supervisor to restart a unit.
type ServiceRestarter interface {
	Name() string
	Restart(ctx context.Context, unit string) error
}
