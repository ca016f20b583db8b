package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modoterra/nodewatch/internal/buildinfo"
)

// exitRestarted is the process status of `run --exit-code` when a restart
// was triggered.
const exitRestarted = 3

var errRestartTriggered = errors.New("restart triggered")

var (
	configPath string
	unitFlag   string
	levelFlag  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRestartTriggered) {
			os.Exit(exitRestarted)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "nodewatch",
	Short:         "Log-driven watchdog for a systemd-managed node",
	Long:          "nodewatch reads a service's journal, decides whether it is healthy, and restarts it when it logged an error or never became ready.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to nodewatch.yaml (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&unitFlag, "unit", "", "systemd unit to watch")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nodewatch %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}
