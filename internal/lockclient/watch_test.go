package lockclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/assetlock/internal/models"
)

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/events?branch=main&origin=o"},
		{"https://locks.example.com/api/", "wss://locks.example.com/api/events?branch=main&origin=o"},
	}
	for _, tt := range tests {
		got, err := eventsURL(tt.base, models.Scope{Origin: "o", Branch: "main"})
		if err != nil {
			t.Fatalf("eventsURL(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("eventsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestWatchReceivesChanges(t *testing.T) {
	base := startServer(t)
	watcher := newClient(base, "bob")
	alice := newClient(base, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, func(ch Change) { changes <- ch })
	}()

	// The subscription is registered asynchronously; retry the mutation
	// until the watcher sees it.
	deadline := time.After(3 * time.Second)
	path := "Assets/Hero.prefab"
	for {
		if _, err := alice.RequestLock(context.Background(), path); err != nil {
			t.Fatalf("lock: %v", err)
		}
		select {
		case ch := <-changes:
			if ch.Action != models.ActionLock {
				continue
			}
			if ch.FilePath != path || ch.Holder != "alice" {
				t.Fatalf("unexpected change: %+v", ch)
			}
			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
			alice.ReleaseLock(context.Background(), path)
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
}

func TestWatchDialFailure(t *testing.T) {
	c := newClient(fakeService(t, 404, "nope"), "alice")
	if err := c.Watch(context.Background(), func(Change) {}); err == nil {
		t.Fatal("expected dial error")
	}
}
