package procfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/modoterra/nodewatch/pkg/core"
)

// Provider finds and stops processes by command line, like `pkill -f`.
type Provider struct {
	grace  time.Duration // wait before escalating SIGTERM to SIGKILL; 0 never escalates
	logger *slog.Logger
}

// New creates a new process terminator.
func New(grace time.Duration, logger *slog.Logger) *Provider {
	return &Provider{grace: grace, logger: logger}
}

// Find returns running processes whose full command line matches pattern.
// The calling process is never matched.
func (p *Provider) Find(ctx context.Context, pattern string) ([]*process.Process, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid process pattern %q: %w", pattern, err)
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var matched []*process.Process
	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if re.MatchString(cmdline) {
			matched = append(matched, proc)
		}
	}
	return matched, nil
}

// Terminate implements core.ProcessTerminator. Processes still alive after
// the grace period are killed.
func (p *Provider) Terminate(ctx context.Context, pattern string) ([]int, error) {
	procs, err := p.Find(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if len(procs) == 0 {
		return nil, fmt.Errorf("%w: %q", core.ErrNoMatchingProcess, pattern)
	}

	var (
		pids     []int
		errs     []error
		signaled []*process.Process
	)
	for _, proc := range procs {
		if err := proc.TerminateWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate pid %d: %w", proc.Pid, err))
			continue
		}
		p.logger.Info("process terminated", "pid", proc.Pid, "pattern", pattern)
		pids = append(pids, int(proc.Pid))
		signaled = append(signaled, proc)
	}

	if p.grace > 0 && len(signaled) > 0 {
		for _, proc := range p.survivors(ctx, signaled) {
			p.logger.Warn("process ignored SIGTERM, killing", "pid", proc.Pid, "grace", p.grace)
			if err := proc.KillWithContext(ctx); err != nil {
				errs = append(errs, fmt.Errorf("kill pid %d: %w", proc.Pid, err))
			}
		}
	}

	if len(pids) == 0 {
		return nil, errors.Join(errs...)
	}
	return pids, errors.Join(errs...)
}

// survivors waits up to the grace period and returns processes still running.
func (p *Provider) survivors(ctx context.Context, procs []*process.Process) []*process.Process {
	deadline := time.Now().Add(p.grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	alive := procs
	for {
		var still []*process.Process
		for _, proc := range alive {
			if running, err := proc.IsRunningWithContext(ctx); err == nil && running && !isZombie(ctx, proc) {
				still = append(still, proc)
			}
		}
		alive = still
		if len(alive) == 0 || !time.Now().Before(deadline) {
			return alive
		}
		select {
		case <-ctx.Done():
			return alive
		case <-ticker.C:
		}
	}
}

func isZombie(ctx context.Context, proc *process.Process) bool {
	status, err := proc.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}
