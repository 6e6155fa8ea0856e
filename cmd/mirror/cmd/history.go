package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vadiminshakov/mirror/internal"
	"github.com/vadiminshakov/mirror/internal/domain"
)

var (
	historyLive  bool
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <client-id>",
	Short: "Show the recorded sync history of a client",
	Long: `History prints the entries recorded for a client, newest last. Live
and simulated runs are kept in separate sequences; the simulated one is
shown unless --live is set. Do not run it next to a live engine.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyLive, "live", false, "show the live sequence")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show, 0 for all")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print entries as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
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
		return err
	}
	defer app.Close()

	seq := domain.SequenceSimulated
	if historyLive {
		seq = domain.SequenceLive
	}
	entries, err := app.History(seq, args[0])
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "no %s history for %s\n", seq, args[0])
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.RunID, e.Mode, e.Fingerprint)
		for _, o := range e.Orders {
			fmt.Fprintf(out, "    %-4s %s %s @ %s  %s\n", o.Side, o.Quantity, o.Symbol, o.Price, o.Outcome)
		}
	}
	return nil
}
