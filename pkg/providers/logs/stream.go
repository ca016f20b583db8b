// Package logs holds the pieces shared by the log source backends: a
// pollable line stream fed by a reader goroutine, and line scanning.
package logs

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/nodewatch/pkg/core"
)

const streamBuffer = 100

// Producer feeds lines into a Stream until it runs out of input or ctx is
// cancelled. emit returns false once the stream is being torn down.
type Producer func(ctx context.Context, emit func(core.LogLine) bool) error

// Stream is a core.Tail backed by a producer goroutine.
type Stream struct {
	lines     chan core.LogLine
	err       error // written by the producer goroutine before lines is closed
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewStream starts produce in its own goroutine. The goroutine and anything
// produce acquired are released by Close.
func NewStream(ctx context.Context, produce Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		lines:  make(chan core.LogLine, streamBuffer),
		cancel: cancel,
	}
	go func() {
		defer close(s.lines)
		s.err = produce(ctx, func(line core.LogLine) bool {
			select {
			case s.lines <- line:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return s
}

// Poll implements core.Tail.
func (s *Stream) Poll(ctx context.Context, wait time.Duration) (core.LogLine, bool, error) {
	if wait <= 0 {
		select {
		case line, open := <-s.lines:
			return s.received(line, open)
		default:
			return core.LogLine{}, false, nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case line, open := <-s.lines:
		return s.received(line, open)
	case <-timer.C:
		return core.LogLine{}, false, nil
	case <-ctx.Done():
		return core.LogLine{}, false, ctx.Err()
	}
}

func (s *Stream) received(line core.LogLine, open bool) (core.LogLine, bool, error) {
	if open {
		return line, true, nil
	}
	if s.err != nil {
		return core.LogLine{}, false, s.err
	}
	return core.LogLine{}, false, io.EOF
}

// Close stops the producer and waits for it to return.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.lines {
		}
	})
	return nil
}

// ScanLines reads lines from r and calls fn for each until fn returns false
// or r is exhausted.
func ScanLines(r io.Reader, fn func(string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !fn(strings.TrimRight(scanner.Text(), "\r")) {
			return nil
		}
	}
	return scanner.Err()
}

// Last returns at most n trailing elements of lines.
func Last(lines []core.LogLine, n int) []core.LogLine {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
