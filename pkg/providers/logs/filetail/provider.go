package filetail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/providers/logs"
)

const defaultPollInterval = 250 * time.Millisecond

// Provider reads a service's log from a plain file the service appends to.
type Provider struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// New creates a file log provider reading path.
func New(path string, logger *slog.Logger) *Provider {
	return &Provider{path: path, interval: defaultPollInterval, logger: logger}
}

func (p *Provider) Name() string { return "file" }

// ReadHistory returns the last lineCount lines of the file.
func (p *Provider) ReadHistory(_ context.Context, unit string, lineCount int) ([]core.LogLine, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrSourceUnavailable, p.path, err)
	}
	defer f.Close()

	lines, err := p.lastLines(f, unit, lineCount)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrSourceUnavailable, p.path, err)
	}
	p.logger.Debug("file history read", "path", p.path, "lines", len(lines))
	return lines, nil
}

// TailLive follows the file from its current end, after replaying the last
// lineCount lines.
func (p *Provider) TailLive(ctx context.Context, unit string, lineCount int) (core.Tail, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrSourceUnavailable, p.path, err)
	}

	backlog, err := p.lastLines(f, unit, lineCount)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrSourceUnavailable, p.path, err)
	}
	// Seek to end
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek %s: %v", core.ErrSourceUnavailable, p.path, err)
	}

	p.logger.Info("tailing file", "path", p.path, "unit", unit)
	return logs.NewStream(ctx, func(ctx context.Context, emit func(core.LogLine) bool) error {
		defer f.Close()

		for _, line := range backlog {
			if !emit(line) {
				return nil
			}
		}

		reader := bufio.NewReader(f)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err == nil {
				if !emit(p.line(unit, strings.TrimRight(partial, "\r\n"))) {
					return nil
				}
				partial = ""
				continue
			}
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: read %s: %v", core.ErrSourceUnavailable, p.path, err)
			}

			// No new data, poll again
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.interval):
			}

			// Check for truncation (file rotation)
			info, serr := f.Stat()
			if serr != nil {
				continue
			}
			pos, _ := f.Seek(0, io.SeekCurrent)
			if info.Size() < pos {
				f.Seek(0, io.SeekStart)
				reader.Reset(f)
				partial = ""
			}
		}
	}), nil
}

func (p *Provider) lastLines(f *os.File, unit string, n int) ([]core.LogLine, error) {
	if n <= 0 {
		return nil, nil
	}
	var ring []core.LogLine
	err := logs.ScanLines(f, func(text string) bool {
		ring = append(ring, p.line(unit, text))
		if len(ring) > n {
			ring = ring[1:]
		}
		return true
	})
	return ring, err
}

func (p *Provider) line(unit, text string) core.LogLine {
	return core.LogLine{
		Unit:       unit,
		Stream:     "file",
		Text:       text,
		ObservedAt: time.Now(),
	}
}
