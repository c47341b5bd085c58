package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"futures-desk/internal/events"
	"futures-desk/internal/mode"
	"futures-desk/internal/monitor"
	"futures-desk/internal/reconcile"
	"futures-desk/internal/sim"
	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/common"
)

// Exchange is the live data source the controller drives in LIVE mode.
type Exchange interface {
	PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetAccount(ctx context.Context) (*common.AccountSnapshot, error)
	GetOpenOrders(ctx context.Context) ([]common.OpenOrder, error)
	GetTickers(ctx context.Context, symbols []string) ([]common.TickerStats, error)
}

// Cadences gathers the refresh periods. Zero values pick the defaults.
type Cadences struct {
	Prices   time.Duration // live ticker poll
	Account  time.Duration // live account poll
	DemoTick time.Duration // simulator advance
}

func (c *Cadences) fill() {
	if c.Prices <= 0 {
		c.Prices = 3 * time.Second
	}
	if c.Account <= 0 {
		c.Account = 8 * time.Second
	}
	if c.DemoTick <= 0 {
		c.DemoTick = 2 * time.Second
	}
}

// Controller owns the desk snapshot. A single goroutine runs the loop;
// timers, store change-feed events, command requests and in-flight call
// completions all enter it through the same task channel, so the snapshot
// needs no locks. Network and store-writing work runs in spawned goroutines
// whose completions re-enter the loop, keeping polling live while a command
// is in flight.
type Controller struct {
	exchange  Exchange
	simulator *sim.Simulator
	recon     *reconcile.Service
	arbiter   *mode.Arbiter
	database  *db.Database
	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	symbols   []string
	cadences  Cadences

	tasks   chan func()
	done    chan struct{}
	loopCtx context.Context
	cancel  context.CancelFunc

	// loop-owned state, never touched outside the run goroutine
	snap           Snapshot
	pollingPrices  bool
	pollingAccount bool
	pollingOrders  bool
	inflightCmds   int
}

// NewController wires the controller. symbols is the tracked watchlist.
func NewController(
	exchange Exchange,
	simulator *sim.Simulator,
	recon *reconcile.Service,
	arbiter *mode.Arbiter,
	database *db.Database,
	bus *events.Bus,
	metrics *monitor.SystemMetrics,
	symbols []string,
	cadences Cadences,
) *Controller {
	cadences.fill()
	return &Controller{
		exchange:  exchange,
		simulator: simulator,
		recon:     recon,
		arbiter:   arbiter,
		database:  database,
		bus:       bus,
		metrics:   metrics,
		symbols:   symbols,
		cadences:  cadences,
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
}

// Start loads the initial snapshot and launches the loop.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.loopCtx = ctx

	c.snap = Snapshot{Tickers: make(map[string]db.Ticker), Mode: c.arbiter.Mode()}
	if c.snap.Mode == mode.Demo {
		c.loadFromSimulator()
	} else {
		c.loadFromStore(ctx)
	}

	// Store mutations re-enter the loop as merge tasks. Writers never run on
	// the loop goroutine, so this send cannot deadlock.
	c.database.OnChange(func(ch db.Change) {
		select {
		case c.tasks <- func() { c.mergeChange(ctx, ch) }:
		case <-c.done:
		}
	})

	go c.run(ctx)
	log.Printf("✓ Sync controller started (mode: %s, prices every %v, account every %v)",
		c.snap.Mode, c.cadences.Prices, c.cadences.Account)
}

// Stop terminates the loop.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	priceTicker := time.NewTicker(c.cadences.Prices)
	accountTicker := time.NewTicker(c.cadences.Account)
	demoTicker := time.NewTicker(c.cadences.DemoTick)
	defer priceTicker.Stop()
	defer accountTicker.Stop()
	defer demoTicker.Stop()

	modeCh, unsub := c.bus.Subscribe(events.EventModeChange, 8)
	defer unsub()

	// Prime the live pollers immediately rather than waiting a full period.
	if c.snap.Mode == mode.Live {
		c.startPricePoll(ctx)
		c.startAccountPoll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTicker.C:
			if c.snap.Mode == mode.Live {
				c.startPricePoll(ctx)
			}
		case <-accountTicker.C:
			if c.snap.Mode == mode.Live {
				c.startAccountPoll(ctx)
			}
		case <-demoTicker.C:
			if c.snap.Mode == mode.Demo {
				c.applyDemoTick()
			}
		case payload := <-modeCh:
			if tr, ok := payload.(mode.Transition); ok {
				c.applyTransition(ctx, tr)
			}
		case task := <-c.tasks:
			task()
		}
	}
}

// Snapshot returns a copy of the current snapshot.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.post(ctx, func() { reply <- c.snap.clone() }); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-c.done:
		return Snapshot{}, fmt.Errorf("sync controller stopped")
	}
}

// PlaceOrder routes an order to the active source. The reply carries the
// exchange acknowledgment; background polling continues while the call is in
// flight.
func (c *Controller) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	type result struct {
		ack common.OrderAck
		err error
	}
	reply := make(chan result, 1)

	err := c.post(ctx, func() {
		if c.snap.Mode == mode.Demo {
			ack, err := c.simulator.PlaceOrder(req)
			c.afterDemoCommand()
			c.notifyOrderOutcome(req, ack, err)
			if err == nil {
				c.metrics.IncrementOrders()
			}
			reply <- result{ack, err}
			return
		}

		c.beginCommand()
		go func() {
			timer := monitor.NewTimer(c.metrics.ExchangeLatency)
			ack, err := c.exchange.PlaceOrder(ctx, req)
			latency := timer.Stop()

			// Persistence runs on the loop context. The exchange-side effect
			// has already happened, so a canceled request must not lose it.
			if err == nil {
				storeTimer := monitor.NewTimer(c.metrics.StoreLatency)
				c.recon.RecordOrder(c.loopCtx, ack, latency)
				storeTimer.Stop()
				c.metrics.IncrementOrders()
			} else if !common.IsValidation(err) {
				c.metrics.IncrementErrors()
				c.recon.RecordError(c.loopCtx, reconcile.LogOrder,
					fmt.Sprintf("%s %s %s failed: %v", req.Side, req.Type, req.Symbol, err), nil, latency)
			}

			c.postCompletion(func() {
				c.endCommand(c.loopCtx)
				c.notifyOrderOutcome(req, ack, err)
				reply <- result{ack, err}
			})
		}()
	})
	if err != nil {
		return common.OrderAck{}, err
	}

	select {
	case r := <-reply:
		return r.ack, r.err
	case <-ctx.Done():
		return common.OrderAck{}, ctx.Err()
	}
}

// CancelOrder routes a cancellation to the active source.
func (c *Controller) CancelOrder(ctx context.Context, symbol, orderID string) error {
	reply := make(chan error, 1)

	err := c.post(ctx, func() {
		if c.snap.Mode == mode.Demo {
			err := c.simulator.CancelOrder(symbol, orderID)
			c.afterDemoCommand()
			c.notifyCancelOutcome(orderID, err)
			reply <- err
			return
		}

		c.beginCommand()
		go func() {
			timer := monitor.NewTimer(c.metrics.ExchangeLatency)
			err := c.exchange.CancelOrder(ctx, symbol, orderID)
			latency := timer.Stop()

			if err == nil {
				c.recon.RecordCancel(c.loopCtx, orderID, latency)
			} else if !common.IsValidation(err) {
				c.metrics.IncrementErrors()
				c.recon.RecordError(c.loopCtx, reconcile.LogOrder,
					fmt.Sprintf("cancel %s failed: %v", orderID, err), nil, latency)
			}

			c.postCompletion(func() {
				c.endCommand(c.loopCtx)
				c.notifyCancelOutcome(orderID, err)
				reply <- err
			})
		}()
	})
	if err != nil {
		return err
	}

	select {
	case e := <-reply:
		return e
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMode switches the data source by explicit request.
func (c *Controller) SetMode(ctx context.Context, m mode.Mode) error {
	return c.post(ctx, func() {
		prev := c.arbiter.Mode()
		c.arbiter.Set(ctx, m)
		if prev != m {
			c.notify("Mode Changed", fmt.Sprintf("Switched to %s mode", m), "success")
		}
	})
}

// RefreshPrices forces an immediate ticker refresh.
func (c *Controller) RefreshPrices(ctx context.Context) error {
	return c.post(ctx, func() {
		if c.snap.Mode == mode.Live {
			c.startPricePoll(c.loopCtx)
		} else {
			c.applyDemoTick()
		}
	})
}

// RefreshAccount forces an immediate account refresh.
func (c *Controller) RefreshAccount(ctx context.Context) error {
	return c.post(ctx, func() {
		if c.snap.Mode == mode.Live {
			c.startAccountPoll(c.loopCtx)
		} else {
			c.loadFromSimulator()
			c.publishSnapshot()
		}
	})
}

// RefreshOrders forces an immediate order reconciliation. In LIVE mode the
// exchange's resting orders are folded into the store first, so orders placed
// outside this session show up too.
func (c *Controller) RefreshOrders(ctx context.Context) error {
	return c.post(ctx, func() {
		if c.snap.Mode == mode.Live {
			c.startOrderPoll(c.loopCtx)
			return
		}
		c.snap.Orders = c.simulator.Orders()
		c.publishSnapshot()
	})
}

// post delivers a task into the loop.
func (c *Controller) post(ctx context.Context, task func()) error {
	select {
	case c.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("sync controller stopped")
	}
}

// postCompletion delivers a completion task into the loop regardless of the
// caller's context. Completions settle loop-owned bookkeeping (in-flight
// counts, poll flags), so a canceled request must never drop one.
func (c *Controller) postCompletion(task func()) {
	select {
	case c.tasks <- task:
	case <-c.done:
	}
}

// --- loop-side handlers -------------------------------------------------

func (c *Controller) startPricePoll(ctx context.Context) {
	if c.pollingPrices {
		return
	}
	c.pollingPrices = true

	go func() {
		timer := monitor.NewTimer(c.metrics.ExchangeLatency)
		stats, err := c.exchange.GetTickers(ctx, c.symbols)
		timer.Stop()

		if err == nil {
			// Writes re-enter the loop through the change feed.
			storeTimer := monitor.NewTimer(c.metrics.StoreLatency)
			c.recon.ApplyTickers(ctx, stats)
			storeTimer.Stop()
			c.metrics.IncrementTicks()
			c.arbiter.ConfirmLive()
		} else {
			c.metrics.IncrementErrors()
		}

		c.postCompletion(func() {
			c.pollingPrices = false
			c.setConnected(err == nil)
		})
	}()
}

func (c *Controller) startAccountPoll(ctx context.Context) {
	if c.pollingAccount {
		return
	}
	c.pollingAccount = true

	go func() {
		timer := monitor.NewTimer(c.metrics.ExchangeLatency)
		snap, err := c.exchange.GetAccount(ctx)
		latency := timer.Stop()

		if err == nil && snap != nil {
			storeTimer := monitor.NewTimer(c.metrics.StoreLatency)
			c.recon.ApplyAccount(ctx, *snap, latency)
			storeTimer.Stop()
			c.metrics.IncrementAccountSyncs()
		} else if err != nil {
			c.metrics.IncrementErrors()
		}

		c.postCompletion(func() { c.pollingAccount = false })
	}()
}

func (c *Controller) startOrderPoll(ctx context.Context) {
	if c.pollingOrders {
		return
	}
	c.pollingOrders = true

	go func() {
		timer := monitor.NewTimer(c.metrics.ExchangeLatency)
		open, err := c.exchange.GetOpenOrders(ctx)
		latency := timer.Stop()

		if err == nil {
			storeTimer := monitor.NewTimer(c.metrics.StoreLatency)
			c.recon.ApplyOpenOrders(ctx, open, latency)
			storeTimer.Stop()
		} else {
			c.metrics.IncrementErrors()
		}

		c.postCompletion(func() {
			c.pollingOrders = false
			c.reloadOrders(c.loopCtx)
			c.publishSnapshot()
		})
	}()
}

func (c *Controller) applyDemoTick() {
	c.simulator.Tick()
	c.metrics.IncrementTicks()
	c.loadFromSimulator()
	c.publishSnapshot()
}

func (c *Controller) applyTransition(ctx context.Context, tr mode.Transition) {
	c.snap.Mode = tr.To
	if tr.To == mode.Demo {
		c.loadFromSimulator()
		c.publishSnapshot()
		return
	}
	c.snap.Connected = false
	c.loadFromStore(ctx)
	c.publishSnapshot()
	c.startPricePoll(ctx)
	c.startAccountPoll(ctx)
}

// mergeChange folds one store row change into the snapshot. Single-row
// tables are patched in place; orders and positions carry cross-row
// invariants, so any change there reloads the whole aggregate.
func (c *Controller) mergeChange(ctx context.Context, ch db.Change) {
	if c.snap.Mode != mode.Live {
		return
	}
	switch ch.Table {
	case db.TableTickers:
		tk, ok := ch.Row.(db.Ticker)
		if !ok {
			return
		}
		c.snap.Tickers[tk.Symbol] = tk
	case db.TableBalance:
		b, ok := ch.Row.(db.Balance)
		if !ok {
			return
		}
		c.snap.Balance = &b
	case db.TablePositions:
		c.reloadPositions(ctx)
	case db.TableOrders:
		c.reloadOrders(ctx)
	default:
		return
	}
	c.publishSnapshot()
}

func (c *Controller) beginCommand() {
	c.inflightCmds++
	c.snap.Loading = true
	c.publishSnapshot()
}

func (c *Controller) endCommand(ctx context.Context) {
	c.inflightCmds--
	if c.inflightCmds <= 0 {
		c.inflightCmds = 0
		c.snap.Loading = false
	}
	c.reloadOrders(ctx)
	c.publishSnapshot()
}

func (c *Controller) afterDemoCommand() {
	c.snap.Orders = c.simulator.Orders()
	c.snap.Positions = c.simulator.Positions()
	b := c.simulator.Balance()
	c.snap.Balance = &b
	c.publishSnapshot()
}

func (c *Controller) setConnected(ok bool) {
	if c.snap.Connected != ok {
		c.snap.Connected = ok
		c.publishSnapshot()
	}
}

func (c *Controller) loadFromSimulator() {
	c.snap.Tickers = make(map[string]db.Ticker)
	for _, tk := range c.simulator.Tickers() {
		c.snap.Tickers[tk.Symbol] = tk
	}
	b := c.simulator.Balance()
	c.snap.Balance = &b
	c.snap.Positions = c.simulator.Positions()
	c.snap.Orders = c.simulator.Orders()
	c.snap.Connected = true // the simulator is always reachable
	c.snap.UpdatedAt = time.Now().UTC()
}

func (c *Controller) loadFromStore(ctx context.Context) {
	c.snap.Tickers = make(map[string]db.Ticker)
	if tickers, err := c.database.ListTickers(ctx); err == nil {
		for _, tk := range tickers {
			c.snap.Tickers[tk.Symbol] = tk
		}
	}
	if b, err := c.database.GetBalance(ctx); err == nil {
		c.snap.Balance = b
	}
	c.reloadPositions(ctx)
	c.reloadOrders(ctx)
}

func (c *Controller) reloadPositions(ctx context.Context) {
	if positions, err := c.database.ListPositions(ctx); err == nil {
		c.snap.Positions = positions
	} else {
		log.Printf("❌ Position reload failed: %v", err)
	}
}

func (c *Controller) reloadOrders(ctx context.Context) {
	if orders, err := c.database.ListOrders(ctx, 20); err == nil {
		c.snap.Orders = orders
	} else {
		log.Printf("❌ Order reload failed: %v", err)
	}
}

func (c *Controller) publishSnapshot() {
	c.snap.UpdatedAt = time.Now().UTC()
	c.bus.Publish(events.EventSnapshot, c.snap.clone())
}

func (c *Controller) notify(title, msg, level string) {
	c.bus.Publish(events.EventNotification, events.Notification{Title: title, Message: msg, Level: level})
}

func (c *Controller) notifyOrderOutcome(req common.OrderRequest, ack common.OrderAck, err error) {
	if err != nil {
		c.notify("Order Failed", err.Error(), "error")
		return
	}
	c.notify("Order Placed",
		fmt.Sprintf("%s %s %s x %v (%s)", req.Side, req.Type, req.Symbol, req.Quantity, ack.Status), "success")
}

func (c *Controller) notifyCancelOutcome(orderID string, err error) {
	if err != nil {
		c.notify("Cancel Failed", err.Error(), "error")
		return
	}
	c.notify("Order Canceled", fmt.Sprintf("Order %s canceled", orderID), "success")
}
