package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/syncservice"
	"github.com/vadiminshakov/mirror/internal/storage/autosync"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted Auto Sync state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
}

type statusView struct {
	Running     bool       `json:"running"`
	PID         int        `json:"pid,omitempty"`
	OwnerAlive  bool       `json:"owner_alive"`
	Interval    string     `json:"interval"`
	ActiveHours string     `json:"active_hours"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Mode        string     `json:"mode"`
	Clients     int        `json:"clients"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := autosync.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	st, err := store.Load()
	if err != nil {
		return err
	}
	view := newStatusView(st, cfg.AutoSync.Interval, cfg.AutoSync.Hours, syncservice.ProcessAlive)
	view.Mode = cfg.Mode.String()
	view.Clients = len(cfg.EnabledClients())

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	fmt.Fprintln(out, view.render())
	return nil
}

func newStatusView(st domain.AutoSyncState, interval time.Duration, hours domain.ActiveHours, alive func(int) bool) statusView {
	v := statusView{
		Running:     st.Running,
		PID:         st.PID,
		Interval:    st.Interval,
		ActiveHours: hours.String(),
		StartedAt:   st.StartedAt,
	}
	if v.Interval == "" {
		v.Interval = interval.String()
	}
	if st.Running && st.PID > 0 {
		v.OwnerAlive = alive(st.PID)
	}
	return v
}

func (v statusView) render() string {
	state := okStyle.Render("running")
	switch {
	case !v.Running:
		state = dimStyle.Render("stopped")
	case !v.OwnerAlive:
		state = failStyle.Render("stale (owner gone, reset on next start)")
	}

	lines := []string{
		fmt.Sprintf("Auto Sync:    %s", state),
		fmt.Sprintf("Mode:         %s", v.Mode),
		fmt.Sprintf("Clients:      %d", v.Clients),
		fmt.Sprintf("Interval:     %s", v.Interval),
		fmt.Sprintf("Active hours: %s", v.ActiveHours),
	}
	if v.Running {
		lines = append(lines, fmt.Sprintf("Owner pid:    %d", v.PID))
		if v.StartedAt != nil {
			lines = append(lines, fmt.Sprintf("Started at:   %s", v.StartedAt.Local().Format(time.RFC3339)))
		}
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
