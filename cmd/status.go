package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status [path...]",
	Short: "Show the lock status of assets",
	Long: `With paths, queries the lock service for each one and shows whether it is free,
held by you or held by someone else. Without paths, shows the current scope,
identity and service health.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		a := newApp(cmd)
		if len(args) == 0 {
			return runOverview(cmd.Context(), a, jsonOut)
		}
		return runStatus(cmd.Context(), a, args, jsonOut)
	},
}

type overview struct {
	Scope   models.Scope `json:"scope"`
	User    string       `json:"user"`
	Server  string       `json:"server"`
	Healthy bool         `json:"healthy"`
	Error   string       `json:"error,omitempty"`
}

func runOverview(ctx context.Context, a *app, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ov := overview{Scope: a.scope(), User: a.me(), Server: a.client.BaseURL}
	if err := a.client.HealthCheck(ctx); err != nil {
		ov.Error = err.Error()
	} else {
		ov.Healthy = true
	}

	if jsonOut {
		return output.JSON(ov)
	}

	fmt.Printf("Scope:  %s\n", output.FormatScope(ov.Scope))
	if ov.User == "" {
		fmt.Printf("User:   %s\n", output.FormatState(models.StateUnknown))
		output.Warning("no user identity configured; run 'assetlock whoami --set'")
	} else {
		fmt.Printf("User:   %s\n", output.FormatHolder(ov.User, ov.User))
	}
	if ov.Healthy {
		fmt.Printf("Server: %s (ok)\n", ov.Server)
	} else {
		fmt.Printf("Server: %s\n", ov.Server)
		output.Error("lock service unreachable: %s", ov.Error)
	}
	return nil
}

// runStatus queries each path fresh. A failed query is shown as unknown,
// never as free.
func runStatus(ctx context.Context, a *app, args []string, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	me := a.me()

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

		st, err := a.client.QuerySingleStatus(ctx, p)
		state := models.Classify(st, me, err)
		if err != nil {
			failed = true
			res := failedResult(p, err)
			res.Result = string(state)
			results = append(results, res)
			if !jsonOut {
				fmt.Printf("%s %s  %s\n", output.FormatState(state), p, reasonSuffix(err))
			}
			continue
		}
		results = append(results, pathResult{Path: p, Result: string(state), Holder: st.Holder})
		if !jsonOut {
			fmt.Println(output.FormatStatusLine(p, st, me))
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

func init() {
	statusCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(statusCmd)
}
