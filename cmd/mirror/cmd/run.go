package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal"
)

var runAutoStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine: crash recovery, cache refresh and Auto Sync",
	Long: `Run starts the long-lived engine. On startup a stale Auto Sync state
left by a crashed process is reset to stopped; it is never resumed.
With --auto-start (or auto_sync.auto_start in the config) Auto Sync is
switched on once recovery is done. Stop it with ` + "`mirror stop`" + ` or Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cmd.Context(), runAutoStart)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the engine with Auto Sync switched on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cmd.Context(), true)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, startCmd)
	runCmd.Flags().BoolVar(&runAutoStart, "auto-start", false, "switch Auto Sync on after startup")
}

func runEngine(parent context.Context, autoStart bool) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	app, err := internal.NewApp(cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", zap.Error(err))
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close engine", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, autoStart || cfg.AutoSync.AutoStart)
	logger.Info("mirror engine stopped", zap.Error(err))
	return err
}
