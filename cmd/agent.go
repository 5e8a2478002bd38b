package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/agent"
	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/notify"
	"github.com/marcus/assetlock/internal/output"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background lock agent for this working copy",
	Long: `Keeps the lock cache fresh, listens for lock changes pushed by the service,
and periodically releases your locks whose changes are pushed. On exit it runs
one final auto-unlock pass.

Only one agent runs per working copy.`,
	GroupID: "agent",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if !verbose {
			// The agent is long-lived; keep info level so releases are visible.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
		}

		refresh, _ := cmd.Flags().GetDuration("refresh")
		interval, _ := cmd.Flags().GetDuration("interval")
		noEvents, _ := cmd.Flags().GetBool("no-events")
		noWatch, _ := cmd.Flags().GetBool("no-watch-config")
		plain, _ := cmd.Flags().GetBool("plain")
		if refresh <= 0 {
			refresh = clientconfig.GetRefreshInterval()
		}
		if interval <= 0 {
			interval = clientconfig.GetAutoUnlockInterval()
		}

		a := newApp(cmd)
		if _, err := a.identity.CurrentUser(); err != nil {
			output.Warning("no user identity configured; auto-unlock is idle until one is set")
		}

		cache := a.newCache()
		engine := a.newEngine(cache, notify.Multi{
			notify.Log{Logger: a.log},
			notify.NewTerminal(os.Stdout, plain),
		})
		ag := agent.New(agent.Config{
			Root:               a.root,
			RefreshInterval:    refresh,
			AutoUnlockInterval: interval,
			WatchConfig:        !noWatch,
			DisableChangeFeed:  noEvents,
		}, cache, engine, a.client, a.identity, a.log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := ag.Run(ctx); err != nil {
			output.Error("agent: %v", err)
			return err
		}
		return nil
	},
}

func init() {
	agentCmd.Flags().Duration("refresh", 0, "lock cache refresh interval (default from config, 10s)")
	agentCmd.Flags().Duration("interval", 0, "auto-unlock scan interval (default from config, 60s)")
	agentCmd.Flags().Bool("no-events", false, "do not subscribe to pushed lock changes")
	agentCmd.Flags().Bool("no-watch-config", false, "do not reload identity when the config file changes")
	agentCmd.Flags().Bool("plain", false, "plain text notifications instead of rendered markdown")
	rootCmd.AddCommand(agentCmd)
}
