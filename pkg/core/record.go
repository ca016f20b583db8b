package core

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrSourceUnavailable means the log query could not be started or
	// exited with a non-zero status.
	ErrSourceUnavailable = errors.New("log source unavailable")

	// ErrRestartStepFailed means a termination or service restart step failed.
	ErrRestartStepFailed = errors.New("restart step failed")

	// ErrNoMatchingProcess means no running process matched the pattern.
	ErrNoMatchingProcess = errors.New("no matching process")
)

// RestartRecord is the append-only audit entry written for every restart.
type RestartRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	Unit              string    `json:"unit"`
	ProcessPattern    string    `json:"process_pattern"`
	Reason            string    `json:"reason"`
	TerminatedProcess bool      `json:"terminated_process"`
	TerminatedPIDs    []int     `json:"terminated_pids,omitempty"`
	ServiceRestarted  bool      `json:"service_restarted"`
	FailureDetail     string    `json:"failure_detail,omitempty"`
}

// Succeeded reports whether both restart steps went through.
func (r RestartRecord) Succeeded() bool {
	return r.TerminatedProcess && r.ServiceRestarted
}

// JoinFailures renders step failures as a single failure detail string.
func JoinFailures(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, "; ")
}
