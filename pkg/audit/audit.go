// Package audit persists RestartRecords to an append-only sink and reads
// them back for the history command.
package audit

import (
	"context"
	"fmt"

	"github.com/modoterra/nodewatch/pkg/core"
)

// Formats accepted by Open.
const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

// Store is a durable, append-only log of restart records.
type Store interface {
	// Append writes one record. Records are never updated afterwards.
	Append(ctx context.Context, rec core.RestartRecord) error

	// Recent returns up to limit records, newest first. A limit below 1
	// returns every record.
	Recent(ctx context.Context, limit int) ([]core.RestartRecord, error)

	Close() error
}

// Open opens (creating if needed) the store at path.
func Open(format, path string) (Store, error) {
	switch format {
	case "", FormatJSONL:
		return OpenJSONL(path)
	case FormatSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown audit format %q", format)
	}
}
