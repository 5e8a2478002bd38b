package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/output"
)

var historyCmd = &cobra.Command{
	Use:     "history [path]",
	Aliases: []string{"log"},
	Short:   "Show recent lock and unlock events in the current scope",
	Long: `Shows who locked and released what, newest first.

Examples:
  assetlock history
  assetlock history Assets/Prefabs/Hero.prefab -n 10`,
	GroupID: "core",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		limit, _ := cmd.Flags().GetInt("limit")
		a := newApp(cmd)

		path := ""
		if len(args) == 1 {
			rel, err := a.resourcePath(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			path = rel
		}
		return runHistory(cmd.Context(), a, path, limit, jsonOut)
	},
}

type historyResult struct {
	Scope  models.Scope       `json:"scope"`
	Path   string             `json:"path,omitempty"`
	Events []models.LockEvent `json:"events"`
}

func runHistory(ctx context.Context, a *app, path string, limit int, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s := a.scope()

	events, err := a.client.QueryHistory(ctx, path, limit)
	if err != nil {
		if jsonOut {
			output.JSONError(errorCode(err), err.Error())
		} else {
			output.Error("history: %v", err)
		}
		return err
	}

	if jsonOut {
		if events == nil {
			events = []models.LockEvent{}
		}
		return output.JSON(historyResult{Scope: s, Path: path, Events: events})
	}

	fmt.Println(output.FormatScope(s))
	if len(events) == 0 {
		output.Info("no lock events")
		return nil
	}
	me := a.me()
	for _, e := range events {
		fmt.Println(output.FormatEventLine(e, me))
	}
	return nil
}

func init() {
	historyCmd.Flags().Bool("json", false, "JSON output")
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of events")
	rootCmd.AddCommand(historyCmd)
}
