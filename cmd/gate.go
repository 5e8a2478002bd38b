package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/output"
)

var gateCmd = &cobra.Command{
	Use:   "gate [path...]",
	Short: "Filter a save batch through the lock check",
	Long: `Checks a batch of paths about to be saved. Untracked asset types always pass.
A tracked asset passes only when you hold its lock, or when it is free and the
lock is acquired for you now. Anything indeterminate is blocked.

Allowed paths are printed to stdout one per line; exits non-zero if any path
was rejected.`,
	Example: `  assetlock gate Assets/Scenes/Main.unity Assets/Scripts/Player.cs
  git diff --cached --name-only | assetlock gate --stdin`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		fromStdin, _ := cmd.Flags().GetBool("stdin")
		if fromStdin {
			more, err := readPaths(os.Stdin)
			if err != nil {
				output.Error("read stdin: %v", err)
				return err
			}
			args = append(args, more...)
		}
		if len(args) == 0 {
			return errors.New("no paths given")
		}
		return runGate(cmd.Context(), newApp(cmd), args, jsonOut)
	},
}

func readPaths(r io.Reader) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if p := strings.TrimSpace(sc.Text()); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, sc.Err()
}

type gateRejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type gateResult struct {
	Allowed  []string        `json:"allowed"`
	Rejected []gateRejection `json:"rejected"`
	Locked   []string        `json:"locked"`
}

// errSaveBlocked is returned when the gate rejected at least one path.
var errSaveBlocked = errors.New("save blocked")

func runGate(ctx context.Context, a *app, args []string, jsonOut bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gate := a.newGate(nil)

	// Report paths back exactly as given.
	original := make(map[string]string, len(args))
	var paths []string
	res := gateResult{Allowed: []string{}, Rejected: []gateRejection{}, Locked: []string{}}
	for _, arg := range args {
		p, err := a.resourcePath(arg)
		if err != nil {
			if !gate.Tracked(arg) {
				res.Allowed = append(res.Allowed, arg)
				continue
			}
			res.Rejected = append(res.Rejected, gateRejection{Path: arg, Reason: err.Error()})
			continue
		}
		if _, seen := original[p]; !seen {
			original[p] = arg
		}
		paths = append(paths, p)
	}

	d := gate.Check(ctx, paths)
	for _, p := range d.Allowed {
		res.Allowed = append(res.Allowed, original[p])
	}
	for _, p := range d.Locked {
		res.Locked = append(res.Locked, original[p])
	}
	for _, r := range d.Rejected {
		gr := gateRejection{Path: original[r.Path], Reason: r.Reason}
		if r.Err != nil {
			gr.Error = r.Err.Error()
		}
		res.Rejected = append(res.Rejected, gr)
	}

	if jsonOut {
		if err := output.JSON(res); err != nil {
			return err
		}
	} else {
		printGate(res)
	}
	if len(res.Rejected) > 0 {
		return errSaveBlocked
	}
	return nil
}

func printGate(res gateResult) {
	for _, p := range res.Allowed {
		fmt.Println(p)
	}
	for _, p := range res.Locked {
		fmt.Fprintf(os.Stderr, "locked %s\n", p)
	}
	for _, r := range res.Rejected {
		fmt.Fprintf(os.Stderr, "blocked %s: %s\n", r.Path, r.Reason)
	}
	if len(res.Rejected) > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d %s blocked\n",
			len(res.Rejected), len(res.Rejected)+len(res.Allowed), plural(len(res.Rejected)+len(res.Allowed), "asset", "assets"))
	}
}

func init() {
	gateCmd.Flags().Bool("json", false, "JSON output")
	gateCmd.Flags().Bool("stdin", false, "read additional paths from stdin, one per line")
	rootCmd.AddCommand(gateCmd)
}
