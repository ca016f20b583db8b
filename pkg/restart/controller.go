// Package restart performs the watchdog's only corrective action: stop the
// managed process and have the host supervisor restart its service.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modoterra/nodewatch/pkg/audit"
	"github.com/modoterra/nodewatch/pkg/core"
)

const auditTimeout = 5 * time.Second

// Controller sequences the two restart steps and records the outcome.
type Controller struct {
	terminator core.ProcessTerminator
	supervisor core.ServiceRestarter
	store      audit.Store // may be nil
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a restart controller. store may be nil, in which case records
// are only logged.
func New(terminator core.ProcessTerminator, supervisor core.ServiceRestarter, store audit.Store, logger *slog.Logger) *Controller {
	return &Controller{
		terminator: terminator,
		supervisor: supervisor,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Restart terminates processes matching pattern, then restarts unit. Both
// steps are always attempted; failures end up in the record's FailureDetail
// and never in a returned error.
func (c *Controller) Restart(ctx context.Context, pattern, unit, reason string) core.RestartRecord {
	rec := core.RestartRecord{
		Timestamp:      c.now(),
		Unit:           core.UnitName(unit),
		ProcessPattern: pattern,
		Reason:         reason,
	}
	var failures []error

	c.logger.Info("restarting service", "unit", rec.Unit, "reason", reason)

	pids, err := c.terminate(ctx, pattern)
	rec.TerminatedPIDs = pids
	rec.TerminatedProcess = len(pids) > 0
	if err != nil {
		failures = append(failures, fmt.Errorf("%w: terminate %q: %v", core.ErrRestartStepFailed, pattern, err))
		c.logger.Error("failed to terminate process", "pattern", pattern, "err", err)
	}

	if err := c.restartService(ctx, rec.Unit); err != nil {
		failures = append(failures, fmt.Errorf("%w: restart %s: %v", core.ErrRestartStepFailed, rec.Unit, err))
		c.logger.Error("failed to restart service", "unit", rec.Unit, "err", err)
	} else {
		rec.ServiceRestarted = true
	}

	rec.FailureDetail = core.JoinFailures(failures)

	c.logger.Info("service was offline, restart issued",
		"unit", rec.Unit,
		"at", rec.Timestamp.Format(time.DateTime),
		"terminated", rec.TerminatedProcess,
		"restarted", rec.ServiceRestarted,
	)

	c.record(ctx, rec)
	return rec
}

// record appends rec to the audit store. The write gets its own deadline so a
// restart that ran out of time is still recorded.
func (c *Controller) record(ctx context.Context, rec core.RestartRecord) {
	if c.store == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := c.store.Append(actx, rec); err != nil {
		c.logger.Error("failed to write audit record", "err", err)
	}
}

func (c *Controller) terminate(ctx context.Context, pattern string) (pids []int, err error) {
	if pattern == "" {
		return nil, errors.New("no process pattern configured")
	}
	defer recoverStep(&err)
	return c.terminator.Terminate(ctx, pattern)
}

func (c *Controller) restartService(ctx context.Context, unit string) (err error) {
	defer recoverStep(&err)
	return c.supervisor.Restart(ctx, unit)
}

// recoverStep turns a panicking step into a step failure.
func recoverStep(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}
