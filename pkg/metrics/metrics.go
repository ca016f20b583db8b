// Package metrics records watchdog runs as Prometheus series. A run is
// short-lived, so series are exported to a node_exporter textfile rather than
// served over HTTP.
//
// Every run starts from an empty registry and rewrites the textfile, so all
// series describe the last run only. They are gauges: use changes() or
// count_over_time() on the scraped series, not increase().
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modoterra/nodewatch/pkg/core"
)

// Restart results, as reported in nodewatch_last_restart_result.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

var (
	outcomes = []core.State{core.StateIdle, core.StateRestartTriggered}
	results  = []string{ResultOK, ResultPartial, ResultFailed}
)

// Metrics bundles prometheus collectors used by the watchdog.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Outcome       *prometheus.GaugeVec
	LinesExamined *prometheus.GaugeVec
	PhaseDuration *prometheus.GaugeVec
	RestartResult *prometheus.GaugeVec
	LastRun       prometheus.Gauge
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		Outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nodewatch_last_run_outcome",
			Help: "1 for the terminal state the last run ended in, 0 otherwise.",
		}, []string{"unit", "outcome"}),
		LinesExamined: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nodewatch_last_run_lines_examined",
			Help: "Log lines classified in the last run, by phase.",
		}, []string{"unit", "phase"}),
		PhaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nodewatch_last_run_phase_duration_seconds",
			Help: "Time the last run spent in each phase.",
		}, []string{"unit", "phase"}),
		RestartResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nodewatch_last_restart_result",
			Help: "1 for the result of the restart performed by the last run, 0 otherwise.",
		}, []string{"unit", "result"}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodewatch_last_run_timestamp_seconds",
			Help: "Unix time the last watchdog run finished.",
		}),
	}

	registry.MustRegister(
		m.Outcome,
		m.LinesExamined,
		m.PhaseDuration,
		m.RestartResult,
		m.LastRun,
	)

	return m
}

// ObservePhase records lines examined and time spent in a phase.
func (m *Metrics) ObservePhase(unit string, phase core.State, lines int, took time.Duration) {
	if m == nil {
		return
	}
	m.LinesExamined.WithLabelValues(unit, string(phase)).Set(float64(lines))
	m.PhaseDuration.WithLabelValues(unit, string(phase)).Set(took.Seconds())
}

// ObserveRestart records the result of a restart action.
func (m *Metrics) ObserveRestart(rec core.RestartRecord) {
	if m == nil {
		return
	}
	result := ResultOK
	switch {
	case !rec.ServiceRestarted:
		result = ResultFailed
	case !rec.TerminatedProcess:
		result = ResultPartial
	}
	for _, r := range results {
		m.RestartResult.WithLabelValues(rec.Unit, r).Set(boolValue(r == result))
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(unit string, final core.State, at time.Time) {
	if m == nil {
		return
	}
	for _, s := range outcomes {
		m.Outcome.WithLabelValues(unit, string(s)).Set(boolValue(s == final))
	}
	m.LastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes all series to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
