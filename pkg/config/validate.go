package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Validate checks the configuration for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}
	if strings.TrimSpace(c.Unit) == "" {
		errs = append(errs, fmt.Errorf("unit is required"))
	}
	if c.ProcessPattern == "" {
		errs = append(errs, fmt.Errorf("process_pattern is required"))
	} else if _, err := regexp.Compile(c.ProcessPattern); err != nil {
		errs = append(errs, fmt.Errorf("process_pattern: %w", err))
	}
	if strings.TrimSpace(c.HealthyMarker) == "" {
		errs = append(errs, fmt.Errorf("healthy_marker is required"))
	}
	if c.HistoryLines < 1 {
		errs = append(errs, fmt.Errorf("history_lines must be at least 1, got %d", c.HistoryLines))
	}

	switch c.Source {
	case SourceJournald:
	case SourceFile:
		if c.LogPath == "" {
			errs = append(errs, fmt.Errorf("source file: log_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("source must be journald or file; got %q", c.Source))
	}

	// Live
	if c.Live.Window <= 0 {
		errs = append(errs, fmt.Errorf("live.window must be positive"))
	}
	if c.Live.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("live.poll_interval must be positive"))
	}
	if c.Live.BacklogLines < 0 {
		errs = append(errs, fmt.Errorf("live.backlog_lines must not be negative"))
	}
	if c.Live.QuietNotice < 0 {
		errs = append(errs, fmt.Errorf("live.quiet_notice must not be negative"))
	}

	switch c.Supervisor {
	case "dbus", "systemctl", "service":
	default:
		errs = append(errs, fmt.Errorf("supervisor must be dbus, systemctl, or service; got %q", c.Supervisor))
	}
	if c.KillGrace < 0 {
		errs = append(errs, fmt.Errorf("kill_grace must not be negative"))
	}
	if c.RestartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("restart_timeout must be positive"))
	}

	switch c.Audit.Format {
	case "jsonl", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("audit.format must be jsonl or sqlite; got %q", c.Audit.Format))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", name)
	}
	return l, nil
}
