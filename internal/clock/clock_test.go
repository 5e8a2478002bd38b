package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	tk := f.NewTicker(10 * time.Second)
	defer tk.Stop()

	f.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	f.Advance(5 * time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Fatalf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFakeDropsUnconsumedTicks(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)
	defer tk.Stop()

	f.Advance(time.Second)
	f.Advance(time.Second)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("expected second tick to be dropped")
	default:
	}
}

func TestFakeStopRemovesTicker(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)
	if f.Tickers() != 1 {
		t.Fatalf("expected 1 ticker, got %d", f.Tickers())
	}
	tk.Stop()
	if f.Tickers() != 0 {
		t.Fatalf("expected 0 tickers, got %d", f.Tickers())
	}
}
