// Package watchdog decides from log evidence whether a managed service is
// healthy and restarts it when it is not.
//
// A run walks a small state machine:
//
//	HistoryScan ──► RestartTriggered
//	     │
//	     ▼
//	LiveMonitor ──► RestartTriggered
//	     │
//	     ▼
//	    Idle
//
// HistoryScan reads the last few journal lines. An error or panic, a missing
// readiness marker, or an unreadable log all lead straight to a restart.
// Otherwise LiveMonitor follows the log for a bounded window and restarts on
// the first fault. RestartTriggered and Idle end the run.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/modoterra/nodewatch/pkg/classify"
	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/metrics"
)

// Config holds the static settings of one watchdog run.
type Config struct {
	Unit           string
	ProcessPattern string
	HealthyMarker  string
	HistoryLines   int
	LiveWindow     time.Duration
	PollInterval   time.Duration
	LiveBacklog    int
	QuietNotice    time.Duration // 0 disables the "no new entries" notice
	RestartTimeout time.Duration
}

// Restarter performs the corrective action. It must not fail; failures are
// carried in the returned record.
type Restarter interface {
	Restart(ctx context.Context, pattern, unit, reason string) core.RestartRecord
}

// Result describes a finished run.
type Result struct {
	State       core.State          `json:"state"`
	Decision    core.Decision       `json:"decision"`
	History     core.Outcome        `json:"history"`
	Live        *core.Outcome       `json:"live,omitempty"`
	Restart     *core.RestartRecord `json:"restart,omitempty"`
	Interrupted bool                `json:"interrupted,omitempty"`
}

// Watchdog is the orchestrator.
type Watchdog struct {
	cfg        Config
	source     core.LogSource
	restarter  Restarter
	historical classify.Classifier
	live       classify.Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithMetrics records phase and run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// WithClassifiers replaces the historical and live matchers.
func WithClassifiers(historical, live classify.Classifier) Option {
	return func(w *Watchdog) {
		w.historical = historical
		w.live = live
	}
}

// New creates a watchdog reading from source and acting through restarter.
func New(cfg Config, source core.LogSource, restarter Restarter, logger *slog.Logger, opts ...Option) *Watchdog {
	cfg.Unit = core.UnitName(cfg.Unit)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RestartTimeout <= 0 {
		cfg.RestartTimeout = time.Minute
	}
	w := &Watchdog{
		cfg:        cfg,
		source:     source,
		restarter:  restarter,
		historical: classify.NewHistorical(cfg.HealthyMarker),
		live:       classify.Live{},
		logger:     logger.With("unit", cfg.Unit),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run performs one full pass through the state machine.
func (w *Watchdog) Run(ctx context.Context) Result {
	var res Result
	state := core.StateHistoryScan
	w.logger.Info("watchdog started", "source", w.source.Name())

	for {
		var d core.Decision
		switch state {
		case core.StateHistoryScan:
			d = w.scanHistory(ctx, &res)
		case core.StateLiveMonitor:
			d = w.monitorLive(ctx, &res)
		case core.StateRestartTriggered:
			rec := w.restart(ctx, res.Decision.Reason)
			res.Restart = &rec
			return w.finish(res, state)
		case core.StateIdle:
			return w.finish(res, state)
		}

		next := Transition(state, d)
		w.logger.Info("phase complete", "from", state, "to", next, "reason", d.Reason)
		res.Decision = d
		state = next
	}
}

// Transition maps a phase's decision to the next state.
func Transition(from core.State, d core.Decision) core.State {
	if from.Terminal() {
		return from
	}
	switch d.Action {
	case core.ActionRestartNow:
		return core.StateRestartTriggered
	case core.ActionContinueMonitoring:
		if from == core.StateHistoryScan {
			return core.StateLiveMonitor
		}
		return core.StateIdle
	default:
		return core.StateIdle
	}
}

// DecideHistory turns the historical scan into a decision. An unreadable log
// counts as a fault, and so does the absence of the readiness marker.
func DecideHistory(o core.Outcome, sourceErr error) core.Decision {
	switch {
	case sourceErr != nil:
		return restartNow("log source unavailable: %v", sourceErr)
	case o.SawError:
		return restartNow("error or panic in the last %d log lines", o.LinesExamined)
	case !o.SawHealthySignal:
		return restartNow("readiness marker not found in the last %d log lines", o.LinesExamined)
	default:
		return core.Decision{Action: core.ActionContinueMonitoring, Reason: "service started cleanly"}
	}
}

func (w *Watchdog) scanHistory(ctx context.Context, res *Result) core.Decision {
	start := time.Now()
	w.logger.Info("checking recent log", "lines", w.cfg.HistoryLines)

	lines, err := w.source.ReadHistory(ctx, w.cfg.Unit, w.cfg.HistoryLines)
	if err != nil {
		if ctx.Err() != nil {
			return w.interrupted(res)
		}
		w.logger.Error("failed to read log history", "err", err)
		return DecideHistory(core.Outcome{}, err)
	}

	var o core.Outcome
	for _, line := range lines {
		c := w.historical.Classify(line)
		o.Observe(c)
		w.logClassified("old log line", c)
	}
	res.History = o
	w.metrics.ObservePhase(w.cfg.Unit, core.StateHistoryScan, o.LinesExamined, time.Since(start))
	return DecideHistory(o, nil)
}

func (w *Watchdog) monitorLive(ctx context.Context, res *Result) core.Decision {
	start := time.Now()
	var o core.Outcome
	res.Live = &o
	defer func() {
		w.metrics.ObservePhase(w.cfg.Unit, core.StateLiveMonitor, o.LinesExamined, time.Since(start))
	}()

	tail, err := w.source.TailLive(ctx, w.cfg.Unit, w.cfg.LiveBacklog)
	if err != nil {
		if ctx.Err() != nil {
			return w.interrupted(res)
		}
		w.logger.Error("failed to follow log", "err", err)
		return restartNow("cannot follow log: %v", err)
	}
	defer tail.Close()

	deadline := start.Add(w.cfg.LiveWindow)
	lastEntry := start
	w.logger.Info("monitoring log", "window", w.cfg.LiveWindow)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return core.Decision{
				Action: core.ActionNoActionNeeded,
				Reason: fmt.Sprintf("no error or panic within %s", w.cfg.LiveWindow),
			}
		}
		w.logger.Debug("time remaining", "remaining", remaining.Round(time.Second))

		line, ok, err := tail.Poll(ctx, min(w.cfg.PollInterval, remaining))
		switch {
		case ctx.Err() != nil:
			return w.interrupted(res)
		case errors.Is(err, io.EOF):
			w.logger.Warn("log stream ended before the window closed")
			if !sleepCtx(ctx, time.Until(deadline)) {
				return w.interrupted(res)
			}
			continue
		case err != nil:
			w.logger.Error("log stream failed", "err", err)
			return restartNow("log stream failed: %v", err)
		case !ok:
			if w.cfg.QuietNotice > 0 && time.Since(lastEntry) > w.cfg.QuietNotice {
				w.logger.Debug("no new log entries", "for", w.cfg.QuietNotice)
				lastEntry = time.Now()
			}
			continue
		}

		lastEntry = time.Now()
		c := w.live.Classify(line)
		o.Observe(c)
		w.logClassified("log line read", c)
		if c.Class == core.ClassErrorOrPanic {
			return restartNow("error or panic while monitoring: %s", line.Text)
		}
	}
}

// restart runs the restart controller. It is not cut short by an interrupt
// arriving after the decision was made, only by RestartTimeout.
func (w *Watchdog) restart(ctx context.Context, reason string) core.RestartRecord {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.RestartTimeout)
	defer cancel()

	rec := w.restarter.Restart(rctx, w.cfg.ProcessPattern, w.cfg.Unit, reason)
	w.metrics.ObserveRestart(rec)
	if rec.FailureDetail != "" {
		w.logger.Error("restart incomplete", "detail", rec.FailureDetail)
	}
	return rec
}

func (w *Watchdog) interrupted(res *Result) core.Decision {
	res.Interrupted = true
	w.logger.Info("monitoring interrupted")
	return core.Decision{Action: core.ActionNoActionNeeded, Reason: "interrupted"}
}

func (w *Watchdog) finish(res Result, state core.State) Result {
	res.State = state
	w.metrics.ObserveRun(w.cfg.Unit, state, time.Now())
	w.logger.Info("watchdog finished", "state", state, "decision", res.Decision.Action)
	return res
}

func (w *Watchdog) logClassified(msg string, c core.Classification) {
	switch c.Class {
	case core.ClassErrorOrPanic:
		w.logger.Error(msg, "class", c.Class, "line", c.Line.Text)
	case core.ClassHealthy:
		w.logger.Info(msg, "class", c.Class, "line", c.Line.Text)
	default:
		w.logger.Debug(msg, "line", c.Line.Text)
	}
}

func restartNow(format string, args ...any) core.Decision {
	return core.Decision{Action: core.ActionRestartNow, Reason: fmt.Sprintf(format, args...)}
}

// sleepCtx waits for d or until ctx is done; it reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
