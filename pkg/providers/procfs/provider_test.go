package procfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/modoterra/nodewatch/pkg/core"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTerminateMatchingProcess(t *testing.T) {
	cmd := exec.Command("sleep", "37.123")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-done
	})

	p := New(2*time.Second, discard())
	pids, err := p.Terminate(context.Background(), `sleep 37\.123`)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(pids) != 1 || pids[0] != cmd.Process.Pid {
		t.Fatalf("pids: got %v, want [%d]", pids, cmd.Process.Pid)
	}

	select {
	case err := <-done:
		done <- err
		if err == nil {
			t.Error("expected sleep to exit by signal")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Terminate")
	}
}

func TestTerminateNoMatch(t *testing.T) {
	p := New(0, discard())
	_, err := p.Terminate(context.Background(), `no-such-process-[0-9]{12}-xyz`)
	if !errors.Is(err, core.ErrNoMatchingProcess) {
		t.Errorf("expected ErrNoMatchingProcess, got %v", err)
	}
}

func TestTerminateInvalidPattern(t *testing.T) {
	p := New(0, discard())
	if _, err := p.Terminate(context.Background(), `node-(`); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
