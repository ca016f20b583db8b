package core

import (
	"fmt"
	"strings"
)

// Class is the verdict the classifier assigns to a log line.
type Class string

const (
	ClassHealthy      Class = "healthy"
	ClassErrorOrPanic Class = "error"
	ClassNeutral      Class = "neutral"
)

// Classification is a classified log line.
type Classification struct {
	Class Class   `json:"class"`
	Line  LogLine `json:"line"`
}

// Outcome accumulates classifications over one evaluation pass.
type Outcome struct {
	SawError         bool `json:"saw_error"`
	SawHealthySignal bool `json:"saw_healthy_signal"`
	LinesExamined    int  `json:"lines_examined"`
}

// Observe folds a classification into the outcome.
func (o *Outcome) Observe(c Classification) {
	o.LinesExamined++
	switch c.Class {
	case ClassErrorOrPanic:
		o.SawError = true
	case ClassHealthy:
		o.SawHealthySignal = true
	}
}

// Action is what the orchestrator decides to do after a phase.
type Action string

const (
	ActionRestartNow         Action = "restart_now"
	ActionContinueMonitoring Action = "continue_monitoring"
	ActionNoActionNeeded     Action = "no_action_needed"
)

// Decision is derived once per phase from an Outcome.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (%s)", d.Action, d.Reason)
}

// State is a watchdog state machine state.
type State string

const (
	StateHistoryScan      State = "history_scan"
	StateLiveMonitor      State = "live_monitor"
	StateRestartTriggered State = "restart_triggered"
	StateIdle             State = "idle"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateRestartTriggered || s == StateIdle
}

// unitTypes are the systemd unit suffixes a name may already carry.
var unitTypes = map[string]bool{
	"service": true,
	"socket":  true,
	"timer":   true,
	"target":  true,
	"mount":   true,
	"path":    true,
	"scope":   true,
	"slice":   true,
}

// UnitName returns the systemd unit name for a service, appending
// ".service" unless the name already ends in a unit type suffix.
// Example: "para" -> "para.service", "para.sh" -> "para.sh.service".
func UnitName(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		return ""
	}
	if i := strings.LastIndex(service, "."); i > 0 && unitTypes[service[i+1:]] {
		return service
	}
	return strings.TrimSuffix(service, ".") + ".service"
}

// ServiceName returns the bare service name, as used by `service(8)`.
func ServiceName(unit string) string {
	return strings.TrimSuffix(strings.TrimSpace(unit), ".service")
}
