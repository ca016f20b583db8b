package logs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/modoterra/nodewatch/pkg/core"
)

func TestStreamDeliversLinesThenEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream(context.Background(), func(ctx context.Context, emit func(core.LogLine) bool) error {
		for _, text := range []string{"one", "two"} {
			if !emit(core.LogLine{Text: text}) {
				return nil
			}
		}
		return nil
	})
	defer s.Close()

	for _, want := range []string{"one", "two"} {
		line, ok, err := s.Poll(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("poll: ok=%v err=%v", ok, err)
		}
		if line.Text != want {
			t.Errorf("got %q, want %q", line.Text, want)
		}
	}
	_, ok, err := s.Poll(context.Background(), time.Second)
	if ok || !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got ok=%v err=%v", ok, err)
	}
}

func TestStreamPollTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream(context.Background(), func(ctx context.Context, emit func(core.LogLine) bool) error {
		<-ctx.Done()
		return nil
	})
	defer s.Close()

	start := time.Now()
	_, ok, err := s.Poll(context.Background(), 20*time.Millisecond)
	if ok || err != nil {
		t.Fatalf("expected timeout, got ok=%v err=%v", ok, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("poll returned before its wait elapsed")
	}

	_, ok, err = s.Poll(context.Background(), 0)
	if ok || err != nil {
		t.Errorf("non-blocking poll: ok=%v err=%v", ok, err)
	}
}

func TestStreamProducerError(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")
	s := NewStream(context.Background(), func(ctx context.Context, emit func(core.LogLine) bool) error {
		return boom
	})
	defer s.Close()

	_, _, err := s.Poll(context.Background(), time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("expected producer error, got %v", err)
	}
}

func TestStreamCloseUnblocksProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream(context.Background(), func(ctx context.Context, emit func(core.LogLine) bool) error {
		for emit(core.LogLine{Text: "spam"}) {
		}
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStreamPollHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream(context.Background(), func(ctx context.Context, emit func(core.LogLine) bool) error {
		<-ctx.Done()
		return nil
	})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Poll(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestScanLines(t *testing.T) {
	var got []string
	err := ScanLines(strings.NewReader("a\r\nb\nc"), func(s string) bool {
		got = append(got, s)
		return len(got) < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("got %v", got)
	}
}

func TestLast(t *testing.T) {
	lines := []core.LogLine{{Text: "1"}, {Text: "2"}, {Text: "3"}}
	if got := Last(lines, 2); len(got) != 2 || got[0].Text != "2" {
		t.Errorf("Last(2) = %v", got)
	}
	if got := Last(lines, 10); len(got) != 3 {
		t.Errorf("Last(10) = %v", got)
	}
	if got := Last(lines, 0); got != nil {
		t.Errorf("Last(0) = %v", got)
	}
}
