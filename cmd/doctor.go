package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/models"
)

var errDoctorFailed = errors.New("one or more checks failed")

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run diagnostic checks for the lock setup",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context(), newApp(cmd), os.Stdout)
	},
}

func check(w io.Writer, name, status, detail string) {
	label := name + " " + strings.Repeat(".", max(3, 22-len(name)))
	if detail != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", label, status, detail)
		return
	}
	fmt.Fprintf(w, "%s %s\n", label, status)
}

func runDoctor(ctx context.Context, a *app, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	failed := false

	// 1. Config file
	if p, err := clientconfig.ConfigPath(); err != nil {
		check(w, "Config file", "FAIL", err.Error())
		failed = true
	} else if _, err := clientconfig.LoadConfig(); err != nil {
		check(w, "Config file", "FAIL", err.Error())
		failed = true
	} else {
		check(w, "Config file", "OK", p)
	}

	// 2. Identity
	if user, err := a.identity.CurrentUser(); err != nil {
		check(w, "Identity", "FAIL", "run 'assetlock whoami --set'")
		failed = true
	} else {
		check(w, "Identity", "OK", user)
	}

	// 3. Working copy
	if a.repo.IsRepo() {
		check(w, "Working copy", "OK", a.root)
	} else {
		check(w, "Working copy", "WARN", "not a git repository: "+a.root)
	}

	// 4. Scope
	s := a.scope()
	switch {
	case s.Origin == models.UnknownScopeValue && s.Branch == models.UnknownScopeValue:
		check(w, "Scope", "WARN", "origin and branch unknown, locks are shared under "+s.String())
	case s.Origin == models.UnknownScopeValue || s.Branch == models.UnknownScopeValue:
		check(w, "Scope", "WARN", s.String())
	default:
		check(w, "Scope", "OK", s.String())
	}

	// 5. Lock service
	if err := a.client.HealthCheck(ctx); err != nil {
		check(w, "Lock service", "FAIL", fmt.Sprintf("%s: %v", a.client.BaseURL, err))
		failed = true
	} else {
		check(w, "Lock service", "OK", a.client.BaseURL)
	}

	// 6. Tracked extensions
	check(w, "Tracked extensions", strings.Join(clientconfig.GetTrackedExtensions(), " "), "")

	if failed {
		return errDoctorFailed
	}
	return nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
