package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vadiminshakov/mirror/internal"
	"github.com/vadiminshakov/mirror/internal/domain"
)

var syncJSON bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync over all enabled clients and exit",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the run result as JSON")
}

func runSync(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.SyncOnce(ctx)
	if syncJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	} else {
		printResult(cmd.OutOrStdout(), res)
	}
	return err
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func printResult(w io.Writer, res domain.SyncRunResult) {
	fmt.Fprintf(w, "run %s (%s, %s)\n", res.RunID, res.Mode, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Err != "" {
		fmt.Fprintln(w, failStyle.Render("error: "+res.Err))
	}
	for _, c := range res.Clients {
		status := okStyle.Render("ok")
		switch {
		case c.Failed:
			status = failStyle.Render("failed")
		case len(c.Errors) > 0:
			status = failStyle.Render("partial")
		case c.Skipped != "":
			status = dimStyle.Render("skipped")
		}
		fmt.Fprintf(w, "  %-16s %s  placed %d/%d", c.ClientID, status, c.Placed, c.Attempted)
		if c.Skipped != "" {
			fmt.Fprintf(w, "  %s", dimStyle.Render(c.Skipped))
		}
		fmt.Fprintln(w)
		for _, o := range c.Orders {
			fmt.Fprintf(w, "    %-4s %s %s @ %s  %s\n", o.Side, o.Quantity, o.Symbol, o.Price, o.Outcome)
		}
		for _, e := range c.Errors {
			fmt.Fprintf(w, "    %s\n", failStyle.Render(e.String()))
		}
	}
	fmt.Fprintln(w, res.Summary())
}
