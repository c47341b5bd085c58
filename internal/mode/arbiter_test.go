package mode

import (
	"context"
	"testing"
	"time"

	"futures-desk/internal/events"
	"futures-desk/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func waitMode(t *testing.T, a *Arbiter, want Mode) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Mode() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mode = %s, want %s", a.Mode(), want)
}

func TestDefaultsToDemo(t *testing.T) {
	database := newTestDB(t)
	a := NewArbiter(context.Background(), database, events.NewBus(), time.Minute)
	defer a.Stop()

	if a.Mode() != Demo {
		t.Fatalf("mode = %s, want DEMO with no stored preference", a.Mode())
	}
}

func TestPreferenceRoundTrips(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	a := NewArbiter(ctx, database, events.NewBus(), time.Minute)
	a.Set(ctx, Live)
	a.Stop()

	b := NewArbiter(ctx, database, events.NewBus(), time.Minute)
	defer b.Stop()
	if b.Mode() != Live {
		t.Fatalf("mode = %s, want LIVE restored from settings", b.Mode())
	}
}

func TestFallbackWithoutConfirmation(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	bus := events.NewBus()
	transitions, unsub := bus.Subscribe(events.EventModeChange, 4)
	defer unsub()

	a := NewArbiter(ctx, database, bus, 30*time.Millisecond)
	defer a.Stop()
	a.Set(ctx, Live)

	waitMode(t, a, Demo)

	// The fallback announces itself on the bus.
	var sawFallback bool
	for done := false; !done; {
		select {
		case payload := <-transitions:
			tr, ok := payload.(Transition)
			if ok && tr.Fallback && tr.To == Demo {
				sawFallback = true
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	if !sawFallback {
		t.Fatal("no fallback transition published")
	}

	// DEMO is sticky.
	time.Sleep(60 * time.Millisecond)
	if a.Mode() != Demo {
		t.Fatalf("mode = %s, DEMO must not auto-revert", a.Mode())
	}

	// An explicit toggle always re-enters LIVE.
	a.Set(ctx, Live)
	if a.Mode() != Live {
		t.Fatalf("mode = %s, explicit Set must win", a.Mode())
	}
}

func TestConfirmLiveDisarmsFallback(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	a := NewArbiter(ctx, database, events.NewBus(), 40*time.Millisecond)
	defer a.Stop()
	a.Set(ctx, Live)
	a.ConfirmLive()

	time.Sleep(80 * time.Millisecond)
	if a.Mode() != Live {
		t.Fatalf("mode = %s, confirmed LIVE must not fall back", a.Mode())
	}
}

func TestConfirmLiveInDemoIsNoop(t *testing.T) {
	database := newTestDB(t)
	a := NewArbiter(context.Background(), database, events.NewBus(), time.Minute)
	defer a.Stop()

	a.ConfirmLive()
	if a.Mode() != Demo {
		t.Fatalf("mode = %s, confirmation must not leave DEMO", a.Mode())
	}
}
