package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/autounlock"
	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/git"
	"github.com/marcus/assetlock/internal/lockcache"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/notify"
	"github.com/marcus/assetlock/internal/savegate"
	"github.com/marcus/assetlock/internal/scope"
)

// app holds the client-side components shared by the commands. The service
// URL and identity are resolved once per invocation.
type app struct {
	root     string
	repo     *git.Repo
	scopes   *scope.Resolver
	identity *clientconfig.Identity
	client   *lockclient.Client
	log      *slog.Logger
}

// newApp resolves the working copy, service endpoint and identity for cmd.
func newApp(cmd *cobra.Command) *app {
	log := slog.Default()

	root := getBaseDir()
	if root == "" {
		root, _ = os.Getwd()
	}
	repo := git.New(root)
	if top, err := repo.RootDir(); err == nil {
		root = top
		repo = git.New(top)
	} else {
		log.Debug("not a git working copy", "dir", root, "err", err)
	}

	serverURL, _ := cmd.Flags().GetString("server-url")
	if serverURL == "" {
		serverURL = clientconfig.GetServerURL()
	}
	serverURL = strings.TrimRight(serverURL, "/")

	identity := clientconfig.NewIdentity()
	if user, _ := cmd.Flags().GetString("user"); strings.TrimSpace(user) != "" {
		identity = clientconfig.StaticIdentity(strings.TrimSpace(user))
	}

	scopes := scope.NewResolver(repo, log)
	client := lockclient.New(serverURL, scopes, identity, clientconfig.GetRequestTimeout()).WithLogger(log)

	return &app{
		root:     root,
		repo:     repo,
		scopes:   scopes,
		identity: identity,
		client:   client,
		log:      log,
	}
}

// resourcePath normalizes a user-supplied path against the working copy root.
func (a *app) resourcePath(p string) (string, error) {
	rel, err := scope.NormalizePath(a.root, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	return rel, nil
}

// me returns the current user or "" when no identity is configured.
func (a *app) me() string {
	user, _ := a.identity.CurrentUser()
	return user
}

func (a *app) scope() models.Scope {
	return a.scopes.Current()
}

func (a *app) newCache() *lockcache.Cache {
	return lockcache.New(a.client, a.scopes, nil, a.log)
}

func (a *app) newGate(cache savegate.Refresher) *savegate.Gate {
	return savegate.New(a.client, cache, clientconfig.GetTrackedExtensions(), a.log)
}

func (a *app) newEngine(cache autounlock.Refresher, sink notify.Sink) *autounlock.Engine {
	return autounlock.New(a.client, a.repo, autounlock.Options{
		Root:            a.root,
		Cache:           cache,
		Sink:            sink,
		Logger:          a.log,
		ShutdownTimeout: clientconfig.GetShutdownTimeout(),
	})
}
