package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/output"
)

var lockCmd = &cobra.Command{
	Use:   "lock <path>...",
	Short: "Lock assets for the current user",
	Long: `Requests an exclusive lock on each path within the current origin and branch.
Paths may be absolute or relative to the repository root.`,
	Example: `  assetlock lock Assets/Scenes/Main.unity
  assetlock lock Assets/Prefabs/Hero.prefab Assets/Prefabs/Enemy.prefab`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return runMutation(cmd.Context(), newApp(cmd), "lock", args, jsonOut)
	},
}

var unlockCmd = &cobra.Command{
	Use:     "unlock <path>...",
	Aliases: []string{"release"},
	Short:   "Release locks held by the current user",
	Long:    `Releases the current user's lock on each path. Releasing an unlocked path succeeds.`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return runMutation(cmd.Context(), newApp(cmd), "unlock", args, jsonOut)
	},
}

// runMutation locks or unlocks each path independently. A failure on one
// path does not stop the rest.
func runMutation(ctx context.Context, a *app, op string, args []string, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var results []pathResult
	failed := false
	for _, arg := range args {
		p, err := a.resourcePath(arg)
		if err != nil {
			failed = true
			results = append(results, failedResult(arg, err))
			if !jsonOut {
				output.Error("%v", err)
			}
			continue
		}

		var res pathResult
		if op == "lock" {
			r, err := a.client.RequestLock(ctx, p)
			if err != nil {
				res = failedResult(p, err)
			} else {
				res = pathResult{Path: p, Result: string(r.Outcome), Holder: r.Holder, Message: r.Message}
			}
		} else {
			r, err := a.client.ReleaseLock(ctx, p)
			if err != nil {
				res = failedResult(p, err)
			} else {
				res = pathResult{Path: p, Result: string(r.Outcome), Message: r.Message}
			}
		}
		if res.Error != "" {
			failed = true
		}
		results = append(results, res)
		if !jsonOut {
			printMutation(res)
		}
	}

	if jsonOut {
		if err := output.JSON(results); err != nil {
			return err
		}
	}
	if failed {
		return errPartialFailure
	}
	return nil
}

func printMutation(r pathResult) {
	switch models.LockOutcome(r.Result) {
	case models.OutcomeLocked:
		output.Success("LOCKED %s", r.Path)
	case models.OutcomeAlreadyLocked:
		output.Info("%s is already locked by you", r.Path)
	case models.OutcomeUnlocked:
		output.Success("UNLOCKED %s", r.Path)
	case models.OutcomeNotLocked:
		output.Info("%s was not locked", r.Path)
	default:
		if r.Holder != "" {
			output.Error("%s: locked by %s", r.Path, r.Holder)
			return
		}
		output.Error("%s: %s", r.Path, r.Error)
	}
}

func init() {
	lockCmd.Flags().Bool("json", false, "JSON output")
	unlockCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}
