package journald

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/providers/logs"
)

const defaultBinary = "journalctl"

// Provider reads a systemd unit's journal through journalctl.
type Provider struct {
	binary string
	logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithBinary overrides the journalctl executable.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// New creates a new journald log provider.
func New(logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{binary: defaultBinary, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "journald" }

// ReadHistory runs `journalctl -u <unit> -n <lineCount>` to completion.
func (p *Provider) ReadHistory(ctx context.Context, unit string, lineCount int) ([]core.LogLine, error) {
	unit = core.UnitName(unit)
	out, err := p.command(ctx, unit, lineCount, false).Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return nil, fmt.Errorf("%w: journalctl -u %s: %v%s", core.ErrSourceUnavailable, unit, err, detail(stderr))
	}

	var lines []core.LogLine
	err = logs.ScanLines(bytes.NewReader(out), func(text string) bool {
		if !isMeta(text) {
			lines = append(lines, p.line(unit, text))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read journal: %v", core.ErrSourceUnavailable, err)
	}

	p.logger.Debug("journal history read", "unit", unit, "lines", len(lines))
	return logs.Last(lines, lineCount), nil
}

// TailLive runs `journalctl -f` until the returned tail is closed.
func (p *Provider) TailLive(ctx context.Context, unit string, lineCount int) (core.Tail, error) {
	unit = core.UnitName(unit)
	subCtx, cancel := context.WithCancel(ctx)

	cmd := p.command(subCtx, unit, lineCount, true)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: journalctl pipe: %v", core.ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: journalctl start: %v", core.ErrSourceUnavailable, err)
	}

	p.logger.Info("following journal", "unit", unit)
	stream := logs.NewStream(subCtx, func(ctx context.Context, emit func(core.LogLine) bool) error {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()

		scanErr := logs.ScanLines(stdout, func(text string) bool {
			if isMeta(text) {
				return true
			}
			return emit(p.line(unit, text))
		})
		if scanErr != nil {
			cancel()
		}
		waitErr := cmd.Wait()

		switch {
		case scanErr != nil:
			return fmt.Errorf("%w: read journal: %v", core.ErrSourceUnavailable, scanErr)
		case ctx.Err() != nil:
			return nil
		case waitErr != nil:
			return fmt.Errorf("%w: journalctl -f -u %s: %v%s", core.ErrSourceUnavailable, unit, waitErr, detail(stderr.String()))
		}
		return nil
	})
	return stream, nil
}

func (p *Provider) command(ctx context.Context, unit string, lineCount int, follow bool) *exec.Cmd {
	if lineCount < 0 {
		lineCount = 0
	}
	args := []string{"-u", unit, "--no-hostname", "--no-pager", "-o", "short-iso", "-n", strconv.Itoa(lineCount)}
	if follow {
		args = append(args, "-f")
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	// Own process group, so cancellation also reaps anything journalctl spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

func (p *Provider) line(unit, text string) core.LogLine {
	return core.LogLine{
		Unit:       unit,
		Stream:     "journal",
		Text:       text,
		ObservedAt: time.Now(),
	}
}

// isMeta reports journalctl's own annotations, e.g. "-- No entries --" or
// "-- Boot 1a2b... --".
func isMeta(text string) bool {
	return strings.HasPrefix(text, "-- ") && strings.HasSuffix(text, " --")
}

func detail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	return ": " + stderr
}
