package savegate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/assetlock/internal/api"
	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/lockdb"
	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/scope"
)

type fakeClient struct {
	mu        sync.Mutex
	user      string
	userErr   error
	table     models.LockTable
	statusErr map[string]error
	lockErr   map[string]error
	queries   []string
	locks     []string
}

func newFakeClient(user string, table models.LockTable) *fakeClient {
	return &fakeClient{user: user, table: table, statusErr: map[string]error{}, lockErr: map[string]error{}}
}

func (f *fakeClient) CurrentUser() (string, error) {
	if f.userErr != nil {
		return "", f.userErr
	}
	return f.user, nil
}

func (f *fakeClient) QuerySingleStatus(_ context.Context, p string) (models.LockStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, p)
	if err := f.statusErr[p]; err != nil {
		return models.LockStatus{}, err
	}
	return f.table.Status(p), nil
}

func (f *fakeClient) RequestLock(_ context.Context, p string) (*lockclient.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, p)
	if err := f.lockErr[p]; err != nil {
		return nil, err
	}
	f.table[p] = f.user
	return &lockclient.Result{Outcome: models.OutcomeLocked}, nil
}

type countingRefresher struct{ n int }

func (r *countingRefresher) Refresh(context.Context) bool {
	r.n++
	return true
}

func TestMixedBatch(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{
		"B.prefab": "alice",
		"C.prefab": "bob",
	})
	cache := &countingRefresher{}
	g := New(fc, cache, nil, nil)

	d := g.Check(context.Background(), []string{"A.prefab", "B.prefab", "C.prefab"})

	assert.Equal(t, []string{"A.prefab", "B.prefab"}, d.Allowed)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, "C.prefab", d.Rejected[0].Path)
	assert.Equal(t, "locked by bob", d.Rejected[0].Reason)
	assert.Equal(t, []string{"A.prefab"}, d.Locked)
	assert.False(t, d.OK())

	assert.Equal(t, "alice", fc.table["A.prefab"], "implicit lock persists")
	assert.Equal(t, []string{"A.prefab"}, fc.locks)
	assert.Equal(t, 1, cache.n)
}

type ctxRefresher struct{ ctx context.Context }

func (r *ctxRefresher) Refresh(ctx context.Context) bool {
	r.ctx = ctx
	return true
}

func TestRefreshOutlivesSaveContext(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{})
	cache := &ctxRefresher{}
	g := New(fc, cache, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d := g.Check(ctx, []string{"A.prefab"})
	cancel()

	assert.Equal(t, []string{"A.prefab"}, d.Locked)
	require.NotNil(t, cache.ctx)
	assert.NoError(t, cache.ctx.Err(), "follow-up refresh must not be cancelled with the save")
}

func TestIndeterminateStatusNeverAllows(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{})
	fc.statusErr["A.prefab"] = &lockclient.Error{Kind: lockclient.ErrIndeterminate, Reason: "timeout"}
	cache := &countingRefresher{}
	g := New(fc, cache, nil, nil)

	d := g.Check(context.Background(), []string{"A.prefab"})

	assert.Empty(t, d.Allowed)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, ReasonIndeterminate, d.Rejected[0].Reason)
	assert.ErrorIs(t, d.Rejected[0].Err, lockclient.ErrIndeterminate)
	assert.Empty(t, fc.locks, "must not try to lock when status is unknown")
	assert.Zero(t, cache.n)
}

func TestImplicitLockFailure(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{})
	fc.lockErr["A.unity"] = &lockclient.Error{Kind: lockclient.ErrRejected, Holder: "bob"}
	g := New(fc, nil, nil, nil)

	d := g.Check(context.Background(), []string{"A.unity"})

	require.Len(t, d.Rejected, 1)
	assert.Equal(t, ReasonNotAcquired, d.Rejected[0].Reason)
	assert.ErrorIs(t, d.Rejected[0].Err, lockclient.ErrRejected)
	assert.Empty(t, d.Locked)
}

func TestNoIdentityRejectsTracked(t *testing.T) {
	fc := newFakeClient("", models.LockTable{})
	fc.userErr = clientconfig.ErrNoIdentity
	g := New(fc, nil, nil, nil)

	d := g.Check(context.Background(), []string{"A.prefab", "notes.txt"})

	assert.Equal(t, []string{"notes.txt"}, d.Allowed)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, ReasonNoIdentity, d.Rejected[0].Reason)
	assert.ErrorIs(t, d.Rejected[0].Err, clientconfig.ErrNoIdentity)
	assert.Empty(t, fc.queries)
}

func TestUntrackedPassThrough(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{"Scripts/Player.cs": "bob"})
	g := New(fc, nil, nil, nil)

	d := g.Check(context.Background(), []string{"Scripts/Player.cs", "Assets/Hero.prefab", "README.md"})

	assert.Equal(t, []string{"Scripts/Player.cs", "Assets/Hero.prefab", "README.md"}, d.Allowed)
	assert.Equal(t, []string{"Assets/Hero.prefab"}, fc.queries)
	assert.True(t, d.OK())
}

func TestTrackedExtensions(t *testing.T) {
	g := New(nil, nil, []string{"asset", " .MAT "}, nil)
	assert.True(t, g.Tracked("a/b.asset"))
	assert.True(t, g.Tracked(`a\b.mat`))
	assert.False(t, g.Tracked("a/b.prefab"))

	g = New(nil, nil, nil, nil)
	assert.True(t, g.Tracked("Assets/Hero.PREFAB"))
	assert.True(t, g.Tracked("Assets/Scenes/Main.unity"))
	assert.False(t, g.Tracked("Assets/Scenes"))
}

func TestAllowedKeepsInputOrder(t *testing.T) {
	fc := newFakeClient("alice", models.LockTable{"b.prefab": "alice"})
	g := New(fc, nil, nil, nil)
	d := g.Check(context.Background(), []string{"z.txt", "b.prefab", "a.txt", "c.prefab"})
	assert.Equal(t, []string{"z.txt", "b.prefab", "a.txt", "c.prefab"}, d.Allowed)
}

// TestGateAgainstService runs the gate through the real client and service.
func TestGateAgainstService(t *testing.T) {
	store, err := lockdb.Open(filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	srv, err := api.NewServer(api.Config{ListenAddr: "127.0.0.1:0", RateLimit: 100000}, store)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
	})

	s := models.Scope{Origin: "git@example.com:game.git", Branch: "main"}
	base := "http://" + srv.Addr().String()
	alice := lockclient.New(base, scope.Static(s), clientconfig.StaticIdentity("alice"), 2*time.Second)
	bob := lockclient.New(base, scope.Static(s), clientconfig.StaticIdentity("bob"), 2*time.Second)

	ctx := context.Background()
	_, err = alice.RequestLock(ctx, "B.prefab")
	require.NoError(t, err)
	_, err = bob.RequestLock(ctx, "C.prefab")
	require.NoError(t, err)

	d := New(alice, nil, nil, nil).Check(ctx, []string{"A.prefab", "B.prefab", "C.prefab"})
	assert.Equal(t, []string{"A.prefab", "B.prefab"}, d.Allowed)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, "locked by bob", d.Rejected[0].Reason)

	table, err := bob.QueryLockTable(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "alice", table["A.prefab"])
	assert.Equal(t, "bob", table["C.prefab"])

	_, err = alice.RequestLock(ctx, "C.prefab")
	assert.True(t, errors.Is(err, lockclient.ErrRejected))
}
