package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/config"
	"github.com/vadiminshakov/mirror/internal/logging"
)

var (
	cfgPath  string
	envFile  string
	logLevel string
	devLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror the positions of a main account onto client accounts",
	Long: `Mirror keeps client accounts in line with a main account.

Every sync reads the main account, scales its positions to each client
(equity ratio, fixed amount or dynamic ratio), validates the resulting
orders against trading limits and market hours, and places them in dry
run, simulation or live mode.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with account credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "human readable console logs")
}

// loadEnv loads credentials from a dotenv file. A missing file is fine,
// variables already set in the environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Errorf("config %s not found, run `mirror setup` first", cfgPath)
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, func() error, error) {
	opts := logging.Options{
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Development: devLog,
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	return logging.New(opts)
}
