package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vadiminshakov/mirror/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the config file with an interactive wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setup.RunTUI(cfgPath)
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
