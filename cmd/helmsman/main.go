package main

import (
	"fmt"
	"os"
	"path/filepath"

	"helmsman/cmd/helmsman/chat"
	"helmsman/internal/config"
	"helmsman/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time via -ldflags.
var version = "0.1.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd launches the interactive chat session.
var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "helmsman - budget-governed autonomous terminal agent",
	Long: `helmsman is an interactive terminal agent that executes model-proposed
action batches under a per-turn loop budget.

A pacemaker tracks agent vitals (focus, confidence, stamina) across loop
iterations and intervenes when it detects stagnation, error cascades, or
budget exhaustion, so runaway sessions are stopped instead of burning quota.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat UI owns the terminal; route its logs to the configured
		// file instead of stderr.
		interactive := cmd.Use == "helmsman" && cmd.CalledAs() == "helmsman"
		var err error
		logger, err = buildLogger(interactive)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetRoot(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return chat.Run(cfg, resolvedConfigPath(), version)
	},
}

// runCmd executes a single instruction without the TUI.
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Execute a single instruction and exit",
	Long: `Processes one natural language instruction through the full control loop:
the policy model proposes action batches, the dispatcher executes them under
the pacemaker's loop budget, and results are printed to stdout.

Confirmation prompts for low-safety actions are answered on stdin.

Example:
  helmsman run "summarize the TODO comments under ./internal"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the helmsman version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("helmsman %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: .helmsman/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogger constructs the process logger. Interactive sessions log to the
// configured file so zap output does not corrupt the alternate screen.
func buildLogger(interactive bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if interactive {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		logFile := cfg.Logging.File
		if logFile == "" {
			logFile = ".helmsman/helmsman.log"
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, err
		}
		zcfg.OutputPaths = []string{logFile}
		zcfg.ErrorOutputPaths = []string{logFile}
	}
	return zcfg.Build()
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
