package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/nodewatch/pkg/audit"
	"github.com/modoterra/nodewatch/pkg/config"
	"github.com/modoterra/nodewatch/pkg/core"
	"github.com/modoterra/nodewatch/pkg/service"
)

// defaultConfigPath is where `config init` writes and `install` points to.
const defaultConfigPath = "/etc/nodewatch/nodewatch.yaml"

// --- History ---

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent restarts from the audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Audit.Path == "" {
			return fmt.Errorf("audit log is disabled (audit.path is empty)")
		}

		var records []core.RestartRecord
		if _, err := os.Stat(cfg.Audit.Path); err == nil {
			store, err := audit.Open(cfg.Audit.Format, cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			if records, err = store.Recent(cmd.Context(), historyLimit); err != nil {
				return err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if records == nil {
				records = []core.RestartRecord{}
			}
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(out, "no restarts recorded")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tUNIT\tRESULT\tPIDS\tREASON")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.Timestamp.Local().Format(time.DateTime), r.Unit, result(r), pids(r.TerminatedPIDs), r.Reason)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of records to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
}

func result(r core.RestartRecord) string {
	switch {
	case r.Succeeded():
		return "ok"
	case r.ServiceRestarted:
		return "partial"
	default:
		return "failed"
	}
}

func pids(p []int) string {
	if len(p) == 0 {
		return "-"
	}
	parts := make([]string, len(p))
	for i, pid := range p {
		parts[i] = fmt.Sprint(pid)
	}
	return strings.Join(parts, ",")
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage nodewatch.yaml",
}

var (
	configInitOutput string
	configInitForce  bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a nodewatch.yaml with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Defaults()
		if unitFlag != "" {
			cfg.Unit = unitFlag
		}
		if err := cfg.Save(configInitOutput, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s for %s\n", configInitOutput, core.UnitName(cfg.Unit))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a nodewatch.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			path = defaultConfigPath
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = cfg.Resolved()

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (unit %s, source %s)\n", path, cfg.Unit, cfg.Source)
			return nil
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOutput, "output", defaultConfigPath, "output file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Install ---

var (
	installInterval time.Duration
	installUser     bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a systemd timer that runs nodewatch periodically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configPath != "" {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
		}
		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot resolve own path: %w", err)
		}
		opts := service.Options{
			Binary:     bin,
			ConfigPath: configPath,
			Interval:   installInterval,
			User:       installUser,
		}
		if err := service.Install(opts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed nodewatch.timer (every %s)\n", installInterval)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the systemd timer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(service.Options{User: installUser}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "removed nodewatch.timer")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the systemd timer is installed and active",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(service.Options{User: installUser}))
	},
}

func init() {
	installCmd.Flags().DurationVar(&installInterval, "interval", service.DefaultInterval, "how often the watchdog runs")
	for _, c := range []*cobra.Command{installCmd, uninstallCmd, statusCmd} {
		c.Flags().BoolVar(&installUser, "user", false, "use the per-user systemd manager")
	}
}
