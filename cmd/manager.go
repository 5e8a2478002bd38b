package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/notify"
	"github.com/marcus/assetlock/internal/tui/manager"
)

var managerCmd = &cobra.Command{
	Use:     "manager",
	Aliases: []string{"ui"},
	Short:   "Interactive lock management panel",
	Long: `Shows every locked asset in the current scope with its holder. Your locks are
green, teammates' are red.

Key bindings:
  ↑/↓ j/k   Select lock
  u         Unlock the selected asset (yours only)
  l         Lock a typed path
  r         Refresh
  a         Run an auto-unlock check
  ?         Toggle help
  q         Quit`,
	GroupID: "agent",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = clientconfig.GetRefreshInterval()
		}

		a := newApp(cmd)
		cache := a.newCache()
		engine := a.newEngine(cache, notify.Log{Logger: a.log})

		model := manager.NewModel(manager.Deps{
			Client:   a.client,
			Cache:    cache,
			Scanner:  engine,
			Root:     a.root,
			Interval: interval,
			Timeout:  clientconfig.GetRequestTimeout(),
		})

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running manager: %w", err)
		}
		return nil
	},
}

func init() {
	managerCmd.Flags().Duration("interval", 0, "refresh interval (default from config, 10s)")
	rootCmd.AddCommand(managerCmd)
}
