package mode

import (
	"context"
	"log"
	"sync"
	"time"

	"futures-desk/internal/events"
	"futures-desk/pkg/db"
)

// Mode is the data-source the desk is currently driven by.
type Mode string

const (
	Live Mode = "LIVE"
	Demo Mode = "DEMO"
)

const settingKey = "trading_mode"

// DefaultFallback is how long LIVE may run without a confirmed price fetch
// before the desk drops to DEMO.
const DefaultFallback = 10 * time.Second

// Arbiter decides whether the live exchange or the simulator feeds the desk.
// LIVE carries a pending-fallback window: entering LIVE arms a timer, and
// only a successful price fetch disarms it. If the window elapses without a
// confirmation the arbiter drops to DEMO and announces it on the bus. DEMO is
// sticky: it never auto-reverts, only an explicit Set(LIVE) leaves it.
type Arbiter struct {
	mu       sync.Mutex
	mode     Mode
	timer    *time.Timer
	fallback time.Duration
	database *db.Database
	bus      *events.Bus
}

// NewArbiter restores the persisted mode preference (DEMO when none is
// stored) and arms the fallback window if that preference is LIVE.
func NewArbiter(ctx context.Context, database *db.Database, bus *events.Bus, fallback time.Duration) *Arbiter {
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	a := &Arbiter{mode: Demo, fallback: fallback, database: database, bus: bus}

	stored, err := database.GetSetting(ctx, settingKey)
	if err != nil {
		log.Printf("❌ Mode preference read failed: %v", err)
	}
	if stored == string(Live) {
		a.mode = Live
		a.arm()
	}
	log.Printf("✓ Trading mode: %s", a.mode)
	return a
}

// Mode returns the current mode.
func (a *Arbiter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Set switches mode by explicit request and persists the preference.
// Entering LIVE restarts the unconfirmed-connectivity window.
func (a *Arbiter) Set(ctx context.Context, m Mode) {
	a.mu.Lock()
	prev := a.mode
	a.mode = m
	a.disarm()
	if m == Live {
		a.arm()
	}
	a.mu.Unlock()

	if err := a.database.SetSetting(ctx, settingKey, string(m)); err != nil {
		log.Printf("❌ Mode preference write failed: %v", err)
	}
	if prev != m {
		a.announce(prev, m, false)
	}
}

// ConfirmLive records live connectivity. A successful price fetch is the
// only confirmation signal; account fetches do not count.
func (a *Arbiter) ConfirmLive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == Live {
		a.disarm()
	}
}

// Stop cancels any pending fallback timer.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disarm()
}

// arm starts the fallback window. Caller holds a.mu.
func (a *Arbiter) arm() {
	a.disarm()
	a.timer = time.AfterFunc(a.fallback, a.expire)
}

// disarm cancels the window. Caller holds a.mu.
func (a *Arbiter) disarm() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Arbiter) expire() {
	a.mu.Lock()
	if a.mode != Live {
		a.mu.Unlock()
		return
	}
	a.mode = Demo
	a.timer = nil
	a.mu.Unlock()

	log.Printf("⚠️ No live data within %v, falling back to demo mode", a.fallback)
	a.announce(Live, Demo, true)
}

// Transition is the payload published on mode changes.
type Transition struct {
	From     Mode `json:"from"`
	To       Mode `json:"to"`
	Fallback bool `json:"fallback"` // true when triggered by the connectivity window
}

func (a *Arbiter) announce(from, to Mode, fallback bool) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.EventModeChange, Transition{From: from, To: to, Fallback: fallback})
	if fallback {
		a.bus.Publish(events.EventNotification, events.Notification{
			Title:   "Demo Mode",
			Message: "Live connection unavailable, switched to simulated data",
			Level:   "error",
		})
	}
}
