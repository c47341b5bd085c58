package sim

import (
	"math"
	"math/rand"
	"testing"

	"futures-desk/pkg/exchange/common"
)

func TestSeedDataset(t *testing.T) {
	s := New(rand.NewSource(1))

	tickers := s.Tickers()
	if len(tickers) != 6 {
		t.Fatalf("expected 6 seed tickers, got %d", len(tickers))
	}
	if tickers[0].Symbol != "BTCUSDT" || tickers[0].Price != 104250.50 {
		t.Fatalf("unexpected first ticker: %+v", tickers[0])
	}

	b := s.Balance()
	if b.TotalBalance != 25000 || b.AvailableBalance != 18500 || b.MarginBalance != 6500 || b.UnrealizedPnl != 342.50 {
		t.Fatalf("unexpected seed balance: %+v", b)
	}

	if got := len(s.Positions()); got != 3 {
		t.Fatalf("expected 3 seed positions, got %d", got)
	}
	if got := len(s.Orders()); got != 5 {
		t.Fatalf("expected 5 seed orders, got %d", got)
	}
}

func TestTickBoundedWalk(t *testing.T) {
	s := New(rand.NewSource(42))

	before := map[string]float64{}
	for _, tk := range s.Tickers() {
		before[tk.Symbol] = tk.Price
	}

	s.Tick()

	for _, tk := range s.Tickers() {
		prev := before[tk.Symbol]
		// One step moves at most 0.1%, plus a cent of rounding slack.
		if diff := math.Abs(tk.Price - prev); diff > prev*0.001+0.01 {
			t.Fatalf("%s moved %v from %v, beyond the walk bound", tk.Symbol, diff, prev)
		}
		if tk.Price > tk.High24h || tk.Price < tk.Low24h {
			t.Fatalf("%s price %v outside 24h range [%v, %v]", tk.Symbol, tk.Price, tk.Low24h, tk.High24h)
		}
	}
}

func TestTickKeepsPositionsCoherent(t *testing.T) {
	s := New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		s.Tick()
	}

	prices := map[string]float64{}
	for _, tk := range s.Tickers() {
		prices[tk.Symbol] = tk.Price
	}

	var total float64
	for _, p := range s.Positions() {
		if p.MarkPrice != prices[p.Symbol] {
			t.Fatalf("%s mark %v diverged from ticker %v", p.Symbol, p.MarkPrice, prices[p.Symbol])
		}
		dir := 1.0
		if p.Side == "SHORT" {
			dir = -1
		}
		want := math.Round((p.MarkPrice-p.EntryPrice)*p.Size*dir*100) / 100
		if p.UnrealizedPnl != want {
			t.Fatalf("%s pnl %v, want %v", p.Symbol, p.UnrealizedPnl, want)
		}
		total += p.UnrealizedPnl
	}
	if got := s.Balance().UnrealizedPnl; got != math.Round(total*100)/100 {
		t.Fatalf("balance pnl %v, want sum of position pnl %v", got, total)
	}
}

func TestMarketSellFillsAndNetsIntoPosition(t *testing.T) {
	s := New(rand.NewSource(3))

	ack, err := s.PlaceOrder(common.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     common.SideSell,
		Type:     common.OrderTypeMarket,
		Quantity: 1.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Status != common.StatusFilled {
		t.Fatalf("Status = %v, want FILLED", ack.Status)
	}
	if ack.FilledQty != 1.5 {
		t.Fatalf("FilledQty = %v, want 1.5", ack.FilledQty)
	}
	if ack.AvgPrice != 3890.25 {
		t.Fatalf("AvgPrice = %v, want the seed ticker price", ack.AvgPrice)
	}

	orders := s.Orders()
	if orders[0].Symbol != "ETHUSDT" || orders[0].Side != "SELL" || orders[0].Quantity != 1.5 {
		t.Fatalf("newest order is not the fill: %+v", orders[0])
	}
	if orders[0].Status != "FILLED" {
		t.Fatalf("order status = %q", orders[0].Status)
	}

	// The seed SHORT 1.5 @ 3920 grows to 3.0 at the volume-weighted entry.
	var eth *struct {
		side  string
		size  float64
		entry float64
	}
	for _, p := range s.Positions() {
		if p.Symbol == "ETHUSDT" {
			eth = &struct {
				side  string
				size  float64
				entry float64
			}{p.Side, p.Size, p.EntryPrice}
		}
	}
	if eth == nil {
		t.Fatal("ETHUSDT position missing after fill")
	}
	if eth.side != "SHORT" || eth.size != 3.0 {
		t.Fatalf("position after fill: %+v", eth)
	}
	if eth.entry != 3905.13 {
		t.Fatalf("entry = %v, want 3905.13 (volume-weighted)", eth.entry)
	}

	// The next tick prices and re-marks the enlarged position.
	s.Tick()
	for _, p := range s.Positions() {
		if p.Symbol != "ETHUSDT" {
			continue
		}
		want := math.Round((p.MarkPrice-p.EntryPrice)*3.0*-1*100) / 100
		if p.UnrealizedPnl != want {
			t.Fatalf("pnl after tick = %v, want %v", p.UnrealizedPnl, want)
		}
	}
}

func TestMarketBuyClosesShortAndRealizes(t *testing.T) {
	s := New(rand.NewSource(3))
	balBefore := s.Balance().TotalBalance

	// Closing the seed SHORT 1.5 @ 3920 at 3890.25 realizes (3920-3890.25)*1.5.
	_, err := s.PlaceOrder(common.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Quantity: 1.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	for _, p := range s.Positions() {
		if p.Symbol == "ETHUSDT" {
			t.Fatalf("position should be closed, still present: %+v", p)
		}
	}
	wantPnl := math.Round((3890.25-3920)*1.5*-1*100) / 100 // short profits when price falls
	if got := s.Balance().TotalBalance; math.Abs(got-(balBefore+wantPnl)) > 1e-9 {
		t.Fatalf("balance = %v, want %v", got, balBefore+wantPnl)
	}
}

func TestLimitOrderRestsOpen(t *testing.T) {
	s := New(rand.NewSource(5))

	ack, err := s.PlaceOrder(common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeLimit,
		Quantity: 0.01,
		Price:    100000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Status != common.StatusNew {
		t.Fatalf("Status = %v, want NEW", ack.Status)
	}

	for i := 0; i < 20; i++ {
		s.Tick()
	}
	for _, o := range s.Orders() {
		if o.OrderID != nil && *o.OrderID == ack.OrderID && o.Status != "NEW" {
			t.Fatalf("resting order mutated by ticks: %+v", o)
		}
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	s := New(rand.NewSource(5))

	cases := []struct {
		name string
		req  common.OrderRequest
	}{
		{"limit without price", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Quantity: 1}},
		{"stop limit without stop", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeStopLimit, Quantity: 1, Price: 100}},
		{"zero quantity", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket}},
		{"unknown symbol", common.OrderRequest{Symbol: "NOPEUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(s.Orders())
			if _, err := s.PlaceOrder(tc.req); !common.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(s.Orders()) != before {
				t.Fatal("rejected order must not be recorded")
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	s := New(rand.NewSource(5))

	t.Run("open order flips to CANCELED", func(t *testing.T) {
		if err := s.CancelOrder("BTCUSDT", "SIM001"); err != nil {
			t.Fatalf("CancelOrder: %v", err)
		}
		for _, o := range s.Orders() {
			if o.OrderID != nil && *o.OrderID == "SIM001" && o.Status != "CANCELED" {
				t.Fatalf("status = %q, want CANCELED", o.Status)
			}
		}
	})

	t.Run("terminal order is a success no-op", func(t *testing.T) {
		if err := s.CancelOrder("ETHUSDT", "SIM002"); err != nil {
			t.Fatalf("cancel of FILLED order must succeed, got %v", err)
		}
		for _, o := range s.Orders() {
			if o.OrderID != nil && *o.OrderID == "SIM002" && o.Status != "FILLED" {
				t.Fatalf("terminal order mutated: %+v", o)
			}
		}
	})

	t.Run("unknown order errors", func(t *testing.T) {
		if err := s.CancelOrder("BTCUSDT", "SIM999"); err == nil {
			t.Fatal("expected error for unknown order")
		}
	})
}
