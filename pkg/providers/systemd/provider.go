package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/nodewatch/pkg/core"
)

// Supervisor kinds accepted by New.
const (
	KindDBus      = "dbus"
	KindSystemctl = "systemctl"
	KindService   = "service"
)

// New returns the service restarter for the given supervisor kind.
func New(kind string, logger *slog.Logger) (core.ServiceRestarter, error) {
	switch kind {
	case "", KindDBus:
		return NewDBus(logger), nil
	case KindSystemctl:
		return NewCommand(KindSystemctl, logger), nil
	case KindService:
		return NewCommand(KindService, logger), nil
	default:
		return nil, fmt.Errorf("unsupported supervisor %q", kind)
	}
}

// DBus restarts units through systemd's D-Bus API.
type DBus struct {
	logger *slog.Logger
}

// NewDBus creates a D-Bus backed restarter.
func NewDBus(logger *slog.Logger) *DBus {
	return &DBus{logger: logger}
}

func (d *DBus) Name() string { return KindDBus }

// Restart issues RestartUnit in "replace" mode and waits for the job result.
func (d *DBus) Restart(ctx context.Context, unit string) error {
	unit = core.UnitName(unit)

	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	ch := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("systemd restart %s: %w", unit, err)
	}

	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd restart %s: job result %q", unit, result)
		}
	case <-ctx.Done():
		return fmt.Errorf("systemd restart %s: %w", unit, ctx.Err())
	}

	d.logger.Info("unit restarted", "unit", unit, "via", KindDBus)
	return nil
}

// Command restarts units by invoking `systemctl restart <unit>` or
// `service <name> restart`.
type Command struct {
	kind   string
	binary string
	logger *slog.Logger
}

// NewCommand creates a command backed restarter; kind is "systemctl" or
// "service".
func NewCommand(kind string, logger *slog.Logger) *Command {
	return &Command{kind: kind, binary: kind, logger: logger}
}

func (c *Command) Name() string { return c.kind }

// Restart runs the supervisor CLI and fails on a non-zero exit.
func (c *Command) Restart(ctx context.Context, unit string) error {
	var args []string
	if c.kind == KindService {
		args = []string{core.ServiceName(unit), "restart"}
	} else {
		args = []string{"restart", core.UnitName(unit)}
	}

	out, err := exec.CommandContext(ctx, c.binary, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", c.kind, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", c.kind, strings.Join(args, " "), err)
	}

	c.logger.Info("unit restarted", "unit", unit, "via", c.kind)
	return nil
}
