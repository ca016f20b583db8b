package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/modoterra/nodewatch/pkg/audit"
	"github.com/modoterra/nodewatch/pkg/config"
	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/metrics"
	"github.com/modoterra/nodewatch/pkg/providers/logs/filetail"
	"github.com/modoterra/nodewatch/pkg/providers/logs/journald"
	"github.com/modoterra/nodewatch/pkg/providers/procfs"
	"github.com/modoterra/nodewatch/pkg/providers/systemd"
	"github.com/modoterra/nodewatch/pkg/restart"
	"github.com/modoterra/nodewatch/pkg/watchdog"
)

var (
	runPattern      string
	runWindow       time.Duration
	runHistoryLines int
	runJSON         bool
	runExitCode     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check the service once and restart it if unhealthy",
	Long: `Reads the last history_lines journal lines of the unit. An error, a panic, or a
missing readiness marker restarts the service immediately. Otherwise the journal
is followed for live.window and the first error or panic restarts the service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		supervisor, err := systemd.New(cfg.Supervisor, logger)
		if err != nil {
			return err
		}

		var store audit.Store
		if cfg.Audit.Path != "" {
			s, err := audit.Open(cfg.Audit.Format, cfg.Audit.Path)
			if err != nil {
				// A missing audit trail must not block the restart.
				logger.Warn("audit log unavailable", "path", cfg.Audit.Path, "err", err)
			} else {
				store = s
				defer s.Close()
			}
		}

		var m *metrics.Metrics
		if cfg.Metrics.Textfile != "" {
			m = metrics.New(prometheus.NewRegistry())
		}

		controller := restart.New(procfs.New(cfg.KillGrace, logger), supervisor, store, logger)
		wd := watchdog.New(watchdog.Config{
			Unit:           cfg.Unit,
			ProcessPattern: cfg.ProcessPattern,
			HealthyMarker:  cfg.HealthyMarker,
			HistoryLines:   cfg.HistoryLines,
			LiveWindow:     cfg.Live.Window,
			PollInterval:   cfg.Live.PollInterval,
			LiveBacklog:    cfg.Live.BacklogLines,
			QuietNotice:    cfg.Live.QuietNotice,
			RestartTimeout: cfg.RestartTimeout,
		}, newSource(cfg, logger), controller, logger, watchdog.WithMetrics(m))

		res := wd.Run(ctx)

		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics", "err", err)
		}
		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		if runExitCode && res.State == core.StateRestartTriggered {
			return errRestartTriggered
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPattern, "pattern", "", "process command line pattern to terminate")
	runCmd.Flags().DurationVar(&runWindow, "window", 0, "live monitoring window")
	runCmd.Flags().IntVar(&runHistoryLines, "history-lines", 0, "journal lines to inspect before monitoring")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	runCmd.Flags().BoolVar(&runExitCode, "exit-code", false, fmt.Sprintf("exit with status %d when a restart was triggered", exitRestarted))
}

// loadConfig reads --config (or the defaults), applies flag overrides, and
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Parse(nil)
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("unit") {
		cfg.Unit = unitFlag
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = levelFlag
	}
	if flags.Lookup("pattern") != nil && flags.Changed("pattern") {
		cfg.ProcessPattern = runPattern
	}
	if flags.Lookup("window") != nil && flags.Changed("window") {
		cfg.Live.Window = runWindow
	}
	if flags.Lookup("history-lines") != nil && flags.Changed("history-lines") {
		cfg.HistoryLines = runHistoryLines
	}

	cfg = cfg.Resolved()
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// newLogger builds the text logger, teeing into log.file when configured.
func newLogger(cfg config.Log, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := stderr
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, f)
		closeFn = func() { f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.DateTime))
			}
			return a
		},
	})
	return slog.New(handler), closeFn, nil
}

func newSource(cfg *config.Config, logger *slog.Logger) core.LogSource {
	if cfg.Source == config.SourceFile {
		return filetail.New(cfg.LogPath, logger)
	}
	return journald.New(logger)
}
