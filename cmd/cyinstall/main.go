package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/config"
	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/platform"
	"github.com/dorcha-inc/cyinstall/internal/state"
	"github.com/dorcha-inc/cyinstall/internal/tui"
)

var (
	version = "dev"
	// build time date
	buildDate = "unknown"
)

// app holds the global flags and the configuration loaded for a command
type app struct {
	configPath string
	prettyLog  bool

	cfg   *config.Config
	store *state.Store
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCmd(&app{})
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		tui.New(stderr).Error(formatFailure(ctx, err))
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cyinstall",
		Short: "Install and verify the Cypress binary",
		Long: `cyinstall downloads the Cypress binary for this platform into a version-namespaced
cache, records the installed version, and verifies that the binary runs.`,
		Version:       fmt.Sprintf("%s (built: %s)", version, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync() // sync errors on stdout/stderr are not critical
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a cyinstall.yaml config file")
	rootCmd.PersistentFlags().BoolVar(&a.prettyLog, "pretty", false, "Use pretty-printed logs instead of JSON")

	rootCmd.AddCommand(newInstallCmd(a))
	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))
	rootCmd.AddCommand(newCacheCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

// setup loads the configuration and initializes the global logger
func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := core.Init(resolveLogFormat(cfg, a.prettyLog), cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.store = state.NewStore(cfg.StateDir, cfg.CacheDirectory)
	zap.L().Debug("Loaded configuration",
		zap.String("cache_directory", cfg.CacheDirectory),
		zap.String("state_dir", cfg.StateDir))
	return nil
}

// resolveLogFormat determines the log format based on CLI flag and config
func resolveLogFormat(cfg *config.Config, prettyLog bool) bool {
	if !prettyLog && cfg.LogFormat == config.LogFormatPretty {
		return true
	}
	return prettyLog
}

// packageVersion is the version this build expects to install. Development
// builds have none and install the latest binary.
func packageVersion() string {
	if version == "dev" {
		return ""
	}
	return version
}

// formatFailure renders err with the platform and version footer
func formatFailure(ctx context.Context, err error) string {
	return core.FormatError(err,
		fmt.Sprintf("Platform: %s-%s (%s)", platform.Current(), platform.CurrentArch(), platform.Release(ctx)),
		fmt.Sprintf("%s Version: %s", core.ProductName, version))
}
