package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/marcus/assetlock/internal/api"
	"github.com/marcus/assetlock/internal/lockdb"
	"github.com/marcus/assetlock/internal/models"
)

func runAdmin(args []string) {
	if err := admin(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// admin dispatches an admin subcommand against the lock database directly,
// bypassing the HTTP server.
func admin(args []string, out io.Writer) error {
	if len(args) == 0 {
		printAdminUsage()
		return errors.New("admin command required")
	}

	switch args[0] {
	case "list":
		return adminList(args[1:], out)
	case "force-unlock":
		return adminForceUnlock(args[1:], out)
	case "history":
		return adminHistory(args[1:], out)
	default:
		printAdminUsage()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: assetlock-server admin <command> [flags]

Commands:
  list          List held locks across all scopes
  force-unlock  Remove a lock regardless of holder
  history       Show recent lock events for a scope`)
}

const dbFlagUsage = "path to locks.db (default: from ASSETLOCK_DB_PATH or ./data/locks.db)"

func openDB(dbPath string) (*lockdb.LockDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().DBPath
	}
	store, err := lockdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func scopeFlags(fs *flag.FlagSet) (origin, branch *string) {
	origin = fs.String("origin", "", "repository origin URL")
	branch = fs.String("branch", "", "branch name")
	return origin, branch
}

func adminList(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin list", flag.ContinueOnError)
	holder := fs.String("holder", "", "only show locks held by this user")
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	locks, err := store.ListAllLocks(*holder)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		fmt.Fprintln(out, "no locks held")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORIGIN\tBRANCH\tPATH\tHOLDER\tLOCKED AT")
	for _, l := range locks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.Scope.Origin, l.Scope.Branch, l.ResourcePath, l.Holder, l.LockedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func adminForceUnlock(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin force-unlock", flag.ContinueOnError)
	origin, branch := scopeFlags(fs)
	path := fs.String("path", "", "scope-relative asset path")
	actor := fs.String("actor", "admin", "name recorded in the lock history")
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *origin == "" || *branch == "" || *path == "" {
		fs.Usage()
		return errors.New("--origin, --branch and --path are required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	holder, err := store.ForceRelease(models.Scope{Origin: *origin, Branch: *branch}, *path, *actor)
	if errors.Is(err, lockdb.ErrNotFound) {
		return fmt.Errorf("no lock on %s", *path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "released %s (was held by %s)\n", *path, holder)
	return nil
}

func adminHistory(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin history", flag.ContinueOnError)
	origin, branch := scopeFlags(fs)
	path := fs.String("path", "", "only show events for this asset")
	limit := fs.Int("limit", 50, "maximum number of events")
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *origin == "" || *branch == "" {
		fs.Usage()
		return errors.New("--origin and --branch are required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.History(models.Scope{Origin: *origin, Branch: *branch}, *path, *limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tPATH\tUSER")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.ResourcePath, e.UserName)
	}
	return tw.Flush()
}
