// Package service installs nodewatch as a systemd timer so the watchdog runs
// periodically.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	serviceName = "nodewatch.service"
	timerName   = "nodewatch.timer"

	// DefaultInterval is how often the timer fires.
	DefaultInterval = 5 * time.Minute
)

// Options controls where units are written and how systemd is driven.
type Options struct {
	Binary     string        // absolute path to nodewatch; looked up in PATH when empty
	ConfigPath string        // passed as --config when set
	Interval   time.Duration // DefaultInterval when zero
	User       bool          // user manager instead of the system manager
	Dir        string        // unit directory override
	Systemctl  string        // systemctl binary, "systemctl" when empty
}

// ServiceContents returns the oneshot unit that performs a single run.
func ServiceContents(binaryPath, configPath string) string {
	cmdline := binaryPath + " run"
	if configPath != "" {
		cmdline += " --config " + configPath
	}
	return fmt.Sprintf(`[Unit]
Description=nodewatch log watchdog
Documentation=https://github.com/modoterra/nodewatch
After=network-online.target

[Service]
Type=oneshot
ExecStart=%s
`, cmdline)
}

// TimerContents returns the timer unit that triggers the service.
func TimerContents(interval time.Duration) string {
	secs := int(interval / time.Second)
	return fmt.Sprintf(`[Unit]
Description=Run nodewatch every %s

[Timer]
OnBootSec=%ds
OnUnitActiveSec=%ds
AccuracySec=1s
Unit=%s

[Install]
WantedBy=timers.target
`, interval, secs, secs, serviceName)
}

// UnitDir returns the directory unit files are written to.
func UnitDir(user bool) (string, error) {
	if !user {
		return "/etc/systemd/system", nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user"), nil
}

// Install writes both unit files, reloads systemd and enables the timer.
func Install(opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	if opts.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", opts.Interval)
	}
	if opts.Binary == "" {
		bin, err := exec.LookPath("nodewatch")
		if err != nil {
			return fmt.Errorf("nodewatch not found in PATH: %w", err)
		}
		opts.Binary = bin
	}
	bin, err := filepath.Abs(opts.Binary)
	if err != nil {
		return fmt.Errorf("cannot resolve nodewatch path: %w", err)
	}
	configPath := opts.ConfigPath
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return fmt.Errorf("cannot resolve config path: %w", err)
		}
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	units := map[string]string{
		serviceName: ServiceContents(bin, configPath),
		timerName:   TimerContents(opts.Interval),
	}
	for name, contents := range units {
		if err := os.WriteFile(filepath.Join(opts.Dir, name), []byte(contents), 0o644); err != nil {
			return fmt.Errorf("cannot write unit file: %w", err)
		}
	}

	if err := opts.systemctl("daemon-reload"); err != nil {
		return err
	}
	return opts.systemctl("enable", "--now", timerName)
}

// Uninstall disables the timer, removes both unit files and reloads systemd.
func Uninstall(opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	// Best-effort; the timer may never have been enabled.
	_ = opts.systemctl("disable", "--now", timerName)

	for _, name := range []string{timerName, serviceName} {
		if err := os.Remove(filepath.Join(opts.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cannot remove unit file: %w", err)
		}
	}
	return opts.systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(opts Options) string {
	opts, err := opts.withDefaults()
	if err != nil {
		return "timer: " + err.Error()
	}
	if _, err := os.Stat(filepath.Join(opts.Dir, timerName)); err != nil {
		return "timer: not installed"
	}
	out, runErr := exec.Command(opts.Systemctl, opts.args("is-active", timerName)...).Output()
	state := strings.TrimSpace(string(out))
	if runErr != nil && state == "" {
		state = "unknown"
	}
	return "timer: " + state
}

func (o Options) withDefaults() (Options, error) {
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.Systemctl == "" {
		o.Systemctl = "systemctl"
	}
	if o.Dir == "" {
		dir, err := UnitDir(o.User)
		if err != nil {
			return o, err
		}
		o.Dir = dir
	}
	return o, nil
}

func (o Options) args(args ...string) []string {
	if o.User {
		return append([]string{"--user"}, args...)
	}
	return args
}

func (o Options) systemctl(args ...string) error {
	full := o.args(args...)
	out, err := exec.Command(o.Systemctl, full...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(full, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
