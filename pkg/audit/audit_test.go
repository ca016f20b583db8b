package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/nodewatch/pkg/core"
)

func sampleRecord(i int) core.RestartRecord {
	return core.RestartRecord{
		Timestamp:         time.Date(2026, 10, 19, 12, i, 0, 0, time.UTC),
		Unit:              "para.service",
		ProcessPattern:    "node-1.4.21.1-linux",
		Reason:            "error or panic in recent log",
		TerminatedProcess: i%2 == 0,
		TerminatedPIDs:    []int{1000 + i},
		ServiceRestarted:  true,
		FailureDetail:     "",
	}
}

func TestStores(t *testing.T) {
	for _, format := range []string{FormatJSONL, FormatSQLite} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "restarts."+format)
			store, err := Open(format, path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer store.Close()

			ctx := context.Background()
			for i := 0; i < 3; i++ {
				if err := store.Append(ctx, sampleRecord(i)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			failed := sampleRecord(3)
			failed.TerminatedProcess = false
			failed.TerminatedPIDs = nil
			failed.FailureDetail = "no matching process"
			if err := store.Append(ctx, failed); err != nil {
				t.Fatal(err)
			}

			got, err := store.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Recent(2) returned %d records", len(got))
			}
			if got[0].FailureDetail != "no matching process" {
				t.Errorf("newest first: got %+v", got[0])
			}
			if !got[1].Timestamp.Equal(sampleRecord(2).Timestamp) {
				t.Errorf("timestamp: got %v", got[1].Timestamp)
			}
			if len(got[1].TerminatedPIDs) != 1 || got[1].TerminatedPIDs[0] != 1002 {
				t.Errorf("pids: got %v", got[1].TerminatedPIDs)
			}

			all, err := store.Recent(ctx, 100)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 4 {
				t.Errorf("Recent(100) returned %d, want 4", len(all))
			}

			for _, limit := range []int{0, -1} {
				got, err := store.Recent(ctx, limit)
				if err != nil {
					t.Fatalf("Recent(%d): %v", limit, err)
				}
				if len(got) != 4 {
					t.Errorf("Recent(%d) returned %d, want all 4", limit, len(got))
				}
			}
		})
	}
}

func TestJSONLIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restarts.jsonl")

	for i := 0; i < 2; i++ {
		store, err := OpenJSONL(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Append(context.Background(), sampleRecord(i)); err != nil {
			t.Fatal(err)
		}
		store.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 lines across reopen, got %d", n)
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	if _, err := Open("csv", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSQLiteSkipsCorruptRows(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "restarts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, sampleRecord(0)); err != nil {
		t.Fatal(err)
	}
	corrupt := []struct{ ts, pids string }{
		{"not a timestamp", "[]"},
		{"2026-10-19T12:05:00Z", "{oops"},
	}
	for _, c := range corrupt {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO restarts (timestamp, unit, process_pattern, reason, terminated_process, terminated_pids, service_restarted, failure_detail)
			VALUES (?, 'para.service', 'node', 'x', 0, ?, 0, '')
		`, c.ts, c.pids)
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Append(ctx, sampleRecord(1)); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the 2 valid records, got %d: %+v", len(got), got)
	}
	for _, rec := range got {
		if rec.Timestamp.IsZero() {
			t.Errorf("record with zero timestamp returned: %+v", rec)
		}
	}
}
