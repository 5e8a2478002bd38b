package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/notify"
	"github.com/marcus/assetlock/internal/output"
)

var autoUnlockCmd = &cobra.Command{
	Use:   "auto-unlock",
	Short: "Release your locks whose changes are committed and pushed",
	Long: `Runs one auto-unlock scan. Each of your locks in the current scope is released
when the file exists, has no local changes and HEAD is on a remote branch.`,
	GroupID: "agent",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		plain, _ := cmd.Flags().GetBool("plain")
		return runAutoUnlock(cmd.Context(), newApp(cmd), jsonOut, plain)
	},
}

type skipResult struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type scanResult struct {
	Held     []string     `json:"held"`
	Released []string     `json:"released"`
	Skipped  []skipResult `json:"skipped"`
}

func runAutoUnlock(ctx context.Context, a *app, jsonOut, plain bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var sink notify.Sink = notify.Nop{}
	if !jsonOut {
		sink = notify.NewTerminal(os.Stdout, plain)
	}

	rep, err := a.newEngine(nil, sink).Scan(ctx)
	if err != nil {
		if jsonOut {
			output.JSONError(errorCode(err), err.Error())
		} else {
			output.Error("%v", err)
		}
		return err
	}

	if jsonOut {
		return output.JSON(toScanResult(rep))
	}
	if len(rep.Held) == 0 {
		output.Info("You hold no locks in %s", a.scope().String())
		return nil
	}
	if len(rep.Skipped) > 0 {
		fmt.Print(output.SectionHeader("kept"))
		for _, s := range rep.Skipped {
			line := s.Path + ": " + s.Reason
			if s.Err != nil {
				line += " (" + s.Err.Error() + ")"
			}
			fmt.Println("  - " + line)
		}
	}
	return nil
}

func toScanResult(rep autounlock.Report) scanResult {
	res := scanResult{
		Held:     append([]string{}, rep.Held...),
		Released: append([]string{}, rep.Released...),
		Skipped:  []skipResult{},
	}
	for _, s := range rep.Skipped {
		sr := skipResult{Path: s.Path, Reason: s.Reason}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		res.Skipped = append(res.Skipped, sr)
	}
	return res
}

func init() {
	autoUnlockCmd.Flags().Bool("json", false, "JSON output")
	autoUnlockCmd.Flags().Bool("plain", false, "plain text summary instead of rendered markdown")
	rootCmd.AddCommand(autoUnlockCmd)
}
