package lockcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/assetlock/internal/clock"
	"github.com/marcus/assetlock/internal/models"
	"github.com/marcus/assetlock/internal/scope"
)

var testScope = models.Scope{Origin: "git@example.com:game.git", Branch: "main"}

type fakeFetcher struct {
	mu      sync.Mutex
	table   models.LockTable
	err     error
	calls   atomic.Int32
	gate    chan struct{} // when set, fetches block until closed
	lastArg models.Scope
}

func (f *fakeFetcher) QueryLockTable(ctx context.Context, s models.Scope) (models.LockTable, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.lastArg = s
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.table.Clone(), nil
}

func (f *fakeFetcher) set(table models.LockTable, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table = table
	f.err = err
}

func newTestCache(f *fakeFetcher) (*Cache, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return New(f, scope.Static(testScope), clk, nil), clk
}

func TestEmptyCache(t *testing.T) {
	c, _ := newTestCache(&fakeFetcher{})
	snap := c.Snapshot()
	assert.False(t, snap.Loaded())
	assert.NotNil(t, snap.Table)
	assert.False(t, c.Status("a.prefab").Locked)
}

func TestRefreshReplacesTable(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{"a.prefab": "alice"}}
	c, clk := newTestCache(f)

	require.True(t, c.Refresh(context.Background()))
	c.Wait()

	snap := c.Snapshot()
	assert.True(t, snap.Loaded())
	assert.Equal(t, testScope, snap.Scope)
	assert.Equal(t, clk.Now(), snap.FetchedAt)
	assert.NoError(t, snap.LastErr)
	assert.Equal(t, models.LockStatus{Locked: true, Holder: "alice"}, c.Status("a.prefab"))
	assert.Equal(t, testScope, f.lastArg)

	f.set(models.LockTable{"b.unity": "bob"}, nil)
	require.True(t, c.Refresh(context.Background()))
	c.Wait()
	assert.False(t, c.Status("a.prefab").Locked, "entries missing from the new table are dropped")
	assert.Equal(t, "bob", c.Status("b.unity").Holder)
}

func TestFailedRefreshKeepsTable(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{"a.prefab": "alice"}}
	c, clk := newTestCache(f)
	require.NoError(t, c.RefreshNow(context.Background()))
	fetchedAt := c.Snapshot().FetchedAt

	clk.Advance(time.Minute)
	boom := errors.New("service down")
	f.set(nil, boom)
	err := c.RefreshNow(context.Background())
	require.ErrorIs(t, err, boom)

	snap := c.Snapshot()
	assert.Equal(t, "alice", snap.Table["a.prefab"])
	assert.Equal(t, fetchedAt, snap.FetchedAt)
	assert.Equal(t, clk.Now(), snap.LastAttempt)
	assert.ErrorIs(t, snap.LastErr, boom)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{"a.prefab": "alice"}}
	c, _ := newTestCache(f)
	require.NoError(t, c.RefreshNow(context.Background()))

	snap := c.Snapshot()
	snap.Table["a.prefab"] = "mallory"
	delete(snap.Table, "a.prefab")
	assert.Equal(t, "alice", c.Status("a.prefab").Holder)
}

func TestRefreshCoalesces(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFetcher{table: models.LockTable{}, gate: gate}
	c, _ := newTestCache(f)

	require.True(t, c.Refresh(context.Background()))
	for i := 0; i < 5; i++ {
		assert.False(t, c.Refresh(context.Background()), "refresh %d should coalesce", i)
	}
	close(gate)
	c.Wait()
	assert.Equal(t, int32(1), f.calls.Load())

	assert.True(t, c.Refresh(context.Background()), "a new refresh may start once the previous finished")
	c.Wait()
}

func TestConcurrentRefreshAndWait(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{"a.prefab": "alice"}}
	c, _ := newTestCache(f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Refresh(context.Background())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Wait()
			}
		}()
	}
	wg.Wait()
	c.Wait()

	require.NoError(t, c.RefreshNow(context.Background()))
	assert.Equal(t, "alice", c.Snapshot().Table["a.prefab"])
	assert.GreaterOrEqual(t, f.calls.Load(), int32(2))
}

func TestConcurrentRefreshNow(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{}}
	c, _ := newTestCache(f)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.RefreshNow(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, c.Snapshot().Loaded())
}

func TestRefreshDoesNotBlockCaller(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFetcher{table: models.LockTable{}, gate: gate}
	c, _ := newTestCache(f)
	defer func() {
		close(gate)
		c.Wait()
	}()

	done := make(chan struct{})
	go func() {
		c.Refresh(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Refresh blocked on the fetch")
	}
}

func TestSubscribe(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{"a.prefab": "alice"}}
	c, _ := newTestCache(f)

	var got []Snapshot
	var mu sync.Mutex
	cancel := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	require.NoError(t, c.RefreshNow(context.Background()))

	f.set(nil, errors.New("down"))
	c.RefreshNow(context.Background())

	cancel()
	f.set(models.LockTable{}, nil)
	require.NoError(t, c.RefreshNow(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "only successful refreshes notify, and not after unsubscribe")
	assert.Equal(t, "alice", got[0].Table["a.prefab"])
}

func TestRunTicks(t *testing.T) {
	f := &fakeFetcher{table: models.LockTable{}}
	c, clk := newTestCache(f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return clk.Tickers() == 1 && f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.Wait()
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	c.Wait()
	clk.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), f.calls.Load(), "no tick before the interval elapses")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 0, clk.Tickers())
}

func TestRefreshRecoversPanic(t *testing.T) {
	c := New(panicFetcher{}, scope.Static(testScope), nil, nil)
	require.True(t, c.Refresh(context.Background()))
	c.Wait()
	assert.True(t, c.Refresh(context.Background()), "in-flight flag must be cleared after a panic")
	c.Wait()
}

type panicFetcher struct{}

func (panicFetcher) QueryLockTable(context.Context, models.Scope) (models.LockTable, error) {
	panic("boom")
}
