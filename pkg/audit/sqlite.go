package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modoterra/nodewatch/pkg/core"
)

// SQLite stores restart records in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS restarts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		unit TEXT NOT NULL,
		process_pattern TEXT NOT NULL,
		reason TEXT NOT NULL,
		terminated_process INTEGER NOT NULL,
		terminated_pids TEXT,
		service_restarted INTEGER NOT NULL,
		failure_detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_restarts_timestamp ON restarts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_restarts_unit ON restarts(unit);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Append implements Store.
func (s *SQLite) Append(ctx context.Context, rec core.RestartRecord) error {
	pids, err := json.Marshal(rec.TerminatedPIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO restarts (timestamp, unit, process_pattern, reason, terminated_process, terminated_pids, service_restarted, failure_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Unit, rec.ProcessPattern, rec.Reason,
		rec.TerminatedProcess, string(pids), rec.ServiceRestarted, rec.FailureDetail)
	if err != nil {
		return fmt.Errorf("insert restart: %w", err)
	}
	return nil
}

// Recent implements Store. Rows that fail to decode are skipped.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]core.RestartRecord, error) {
	if limit < 1 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, unit, process_pattern, reason, terminated_process, terminated_pids, service_restarted, failure_detail
		FROM restarts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.RestartRecord
	for rows.Next() {
		var (
			rec    core.RestartRecord
			tsStr  string
			pids   sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&tsStr, &rec.Unit, &rec.ProcessPattern, &rec.Reason,
			&rec.TerminatedProcess, &pids, &rec.ServiceRestarted, &detail); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			continue
		}
		rec.Timestamp = ts
		if pids.Valid && pids.String != "" {
			if err := json.Unmarshal([]byte(pids.String), &rec.TerminatedPIDs); err != nil {
				continue
			}
		}
		if detail.Valid {
			rec.FailureDetail = detail.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
