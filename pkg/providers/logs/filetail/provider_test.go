package filetail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/modoterra/nodewatch/pkg/core"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadHistory(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")
	p := New(path, discard())

	lines, err := p.ReadHistory(context.Background(), "para.service", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].Text != "three" || lines[1].Text != "four" {
		t.Errorf("got %v", lines)
	}
	if lines[0].Stream != "file" || lines[0].Unit != "para.service" {
		t.Errorf("line metadata: %+v", lines[0])
	}
}

func TestReadHistoryMissingFile(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "missing.log"), discard())
	_, err := p.ReadHistory(context.Background(), "para", 20)
	if !errors.Is(err, core.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestTailLiveSeesAppendedLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeLog(t, "old line\n")
	p := New(path, discard())
	p.interval = 10 * time.Millisecond

	tail, err := p.TailLive(context.Background(), "para", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer tail.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("panic: boom\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	line, ok, err := tail.Poll(context.Background(), 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("poll: ok=%v err=%v", ok, err)
	}
	if line.Text != "panic: boom" {
		t.Errorf("got %q, want appended line (not %q)", line.Text, "old line")
	}
}

func TestTailLiveBacklog(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeLog(t, "a\nb\nc\n")
	p := New(path, discard())
	p.interval = 10 * time.Millisecond

	tail, err := p.TailLive(context.Background(), "para", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer tail.Close()

	for _, want := range []string{"b", "c"} {
		line, ok, err := tail.Poll(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("poll: ok=%v err=%v", ok, err)
		}
		if line.Text != want {
			t.Errorf("got %q, want %q", line.Text, want)
		}
	}
}

func TestTailLiveMissingFile(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "missing.log"), discard())
	if _, err := p.TailLive(context.Background(), "para", 0); !errors.Is(err, core.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}
