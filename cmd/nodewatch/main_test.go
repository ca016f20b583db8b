package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/nodewatch/pkg/audit"
	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/watchdog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "nodewatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "nodewatch dev") {
		t.Errorf("got %q", out)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.yaml")

	if _, err := execute(t, "config", "init", "--output", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := execute(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "valid (unit para.service, source journald)") {
		t.Errorf("got %q", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: 1\nhistory_lines: 0\nsupervisor: runit\n")

	if _, err := execute(t, "config", "validate", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHistoryCommandReadsAuditLog(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "restarts.jsonl")

	store, err := audit.OpenJSONL(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	rec := core.RestartRecord{
		Timestamp:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Unit:              "para.service",
		ProcessPattern:    "node-1.4.21.1-linux",
		Reason:            "readiness marker not found in the last 20 log lines",
		TerminatedProcess: true,
		TerminatedPIDs:    []int{4242},
		ServiceRestarted:  true,
	}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	store.Close()

	cfg := writeConfig(t, dir, "audit:\n  format: jsonl\n  path: "+auditPath+"\n")

	out, err := execute(t, "history", "--config", cfg, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var got []core.RestartRecord
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 1 || got[0].Reason != rec.Reason || got[0].TerminatedPIDs[0] != 4242 {
		t.Errorf("got %+v", got)
	}

	out, err = execute(t, "history", "--config", cfg, "--json", "--limit", "-1")
	if err != nil {
		t.Fatalf("history --limit -1: %v", err)
	}
	got = nil
	if err := json.Unmarshal([]byte(out), &got); err != nil || len(got) != 1 {
		t.Errorf("history --limit -1: got %q (%v)", out, err)
	}
}

func TestRunHealthyFileSourceEndsIdle(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "para.log")
	if err := os.WriteFile(logPath, []byte("starting node\ndata worker listening on :8340\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	promPath := filepath.Join(dir, "nodewatch.prom")
	cfg := writeConfig(t, dir, `
source: file
log_path: `+logPath+`
live:
  window: 200ms
  poll_interval: 50ms
audit:
  path: ""
metrics:
  textfile: `+promPath+`
`)

	out, err := execute(t, "run", "--config", cfg, "--json", "--exit-code")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res watchdog.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.State != core.StateIdle || res.Restart != nil {
		t.Errorf("state = %s restart = %+v", res.State, res.Restart)
	}
	if !res.History.SawHealthySignal {
		t.Errorf("history = %+v", res.History)
	}

	prom, err := os.ReadFile(promPath)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), `nodewatch_last_run_outcome{outcome="idle",unit="para.service"} 1`) {
		t.Errorf("metrics:\n%s", prom)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "source: file\n")
	if _, err := execute(t, "run", "--config", cfg); err == nil {
		t.Fatal("expected error for file source without log_path")
	}
}
