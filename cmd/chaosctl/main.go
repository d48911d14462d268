package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mreider/fabrik/internal/config"
	"github.com/mreider/fabrik/pkg/logger"
)

var (
	// Version is injected at build time.
	Version = "dev"

	// Commit is the git commit hash, injected at build time.
	Commit = "unknown"

	// BuildTime is injected at build time.
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chaosctl",
	Short: "Fabrik chaos orchestration and remediation controller",
	Long: `chaosctl injects coordinated faults into the fabrik demo mesh and
rolls them back again. Episodes flip fault parameters on the service
deployments, hold them for a bounded window, then drain; remediation
clears fault state out-of-band at any time.

Examples:
  chaosctl serve
  chaosctl simulate --mode manual
  chaosctl remediate orders --reason "latency alert"
  chaosctl remediate all`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chaosctl %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and initializes the default logger, with
// command-line flags overriding file values.
func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	logger.SetDefault(log)

	return cfg, log, nil
}
