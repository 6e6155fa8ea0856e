package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/services/syncservice"
	"github.com/vadiminshakov/mirror/internal/storage/autosync"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running engine to switch Auto Sync off",
	Long: `Stop marks the persisted Auto Sync state as stopped. The owning engine
notices it on its next tick and halts; a sync already in flight finishes.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := autosync.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	prev, err := syncservice.RequestStop(store)
	if err != nil {
		return err
	}
	logger.Info("auto sync stop requested", zap.Int("owner_pid", prev.PID))

	out := cmd.OutOrStdout()
	if syncservice.ProcessAlive(prev.PID) {
		fmt.Fprintf(out, "stop requested, pid %d halts Auto Sync on its next tick\n", prev.PID)
	} else {
		fmt.Fprintf(out, "owner pid %d is gone, state marked stopped\n", prev.PID)
	}
	return nil
}
