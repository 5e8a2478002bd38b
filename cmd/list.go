package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List locked assets in the current scope",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		mine, _ := cmd.Flags().GetBool("mine")
		return runList(cmd.Context(), newApp(cmd), mine, jsonOut)
	},
}

type listResult struct {
	Scope models.Scope       `json:"scope"`
	User  string             `json:"user,omitempty"`
	Locks []models.LockEntry `json:"locks"`
}

func runList(ctx context.Context, a *app, mine, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s := a.scope()
	me := a.me()

	start := time.Now()
	table, err := a.client.QueryLockTable(ctx, s)
	if err != nil {
		if jsonOut {
			output.JSONError(errorCode(err), err.Error())
		} else {
			output.Error("list locks: %v", err)
		}
		return err
	}
	if mine {
		filtered := models.LockTable{}
		for _, p := range table.HeldBy(me) {
			filtered[p] = me
		}
		table = filtered
	}

	if jsonOut {
		entries := table.Entries()
		if entries == nil {
			entries = []models.LockEntry{}
		}
		return output.JSON(listResult{Scope: s, User: me, Locks: entries})
	}

	fmt.Println(output.FormatScope(s))
	fmt.Println(output.FormatLockTable(table, me))
	if n := len(table); n > 0 {
		fmt.Printf("\n%s %s, fetched %s\n", humanize.Comma(int64(n)), plural(n, "lock", "locks"), output.FormatAge(start))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	listCmd.Flags().Bool("json", false, "JSON output")
	listCmd.Flags().BoolP("mine", "m", false, "only show locks held by you")
	rootCmd.AddCommand(listCmd)
}
