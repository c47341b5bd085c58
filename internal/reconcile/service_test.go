package reconcile

import (
	"context"
	"testing"
	"time"

	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/common"
)

func newTestService(t *testing.T) (*Service, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return NewService(database, 100), database
}

func TestApplyAccountProjectsSignedPositions(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	snap := common.AccountSnapshot{
		Asset:            "USDT",
		WalletBalance:    25000,
		AvailableBalance: 18500,
		MarginBalance:    6500,
		UnrealizedProfit: 342.5,
		Positions: []common.AccountPosition{
			{Symbol: "BTCUSDT", Quantity: 0.05, EntryPrice: 103500, MarkPrice: 104250, UnrealizedProfit: 37.5, Leverage: 10},
			{Symbol: "ETHUSDT", Quantity: -1.5, EntryPrice: 3920, MarkPrice: 3890, UnrealizedProfit: 45, Leverage: 5},
			{Symbol: "SOLUSDT", Quantity: 0},
		},
	}
	svc.ApplyAccount(ctx, snap, 120*time.Millisecond)

	bal, err := database.GetBalance(ctx)
	if err != nil || bal == nil {
		t.Fatalf("GetBalance: %v %v", bal, err)
	}
	if bal.TotalBalance != 25000 || bal.UnrealizedPnl != 342.5 {
		t.Fatalf("unexpected balance: %+v", bal)
	}

	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions (zero-size dropped), got %d", len(positions))
	}
	bySymbol := map[string]db.Position{}
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	if p := bySymbol["BTCUSDT"]; p.Side != "LONG" || p.Size != 0.05 {
		t.Fatalf("BTCUSDT projected wrong: %+v", p)
	}
	if p := bySymbol["ETHUSDT"]; p.Side != "SHORT" || p.Size != 1.5 {
		t.Fatalf("ETHUSDT negative quantity must project SHORT with absolute size: %+v", p)
	}

	logs, err := database.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected exactly one log entry per apply, got %d", len(logs))
	}
	if logs[0].LogType != LogBalance {
		t.Fatalf("LogType = %q, want BALANCE", logs[0].LogType)
	}
	if logs[0].LatencyMs == nil || *logs[0].LatencyMs != 120 {
		t.Fatalf("LatencyMs = %v, want 120", logs[0].LatencyMs)
	}
}

func TestApplyAccountIdempotent(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	snap := common.AccountSnapshot{
		Asset:         "USDT",
		WalletBalance: 1000,
		Positions: []common.AccountPosition{
			{Symbol: "BTCUSDT", Quantity: 0.1, EntryPrice: 100000},
		},
	}
	svc.ApplyAccount(ctx, snap, 0)
	svc.ApplyAccount(ctx, snap, 0)

	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("re-applying a snapshot must not duplicate rows, got %d", len(positions))
	}
}

func TestApplyAccountClosesPosition(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	svc.ApplyAccount(ctx, common.AccountSnapshot{
		Asset: "USDT",
		Positions: []common.AccountPosition{
			{Symbol: "BTCUSDT", Quantity: 0.1, EntryPrice: 100000},
		},
	}, 0)
	svc.ApplyAccount(ctx, common.AccountSnapshot{
		Asset: "USDT",
		Positions: []common.AccountPosition{
			{Symbol: "BTCUSDT", Quantity: 0},
		},
	}, 0)

	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("position reported at zero size must be deleted, got %+v", positions)
	}
}

func TestApplyTickersUpserts(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	svc.ApplyTickers(ctx, []common.TickerStats{
		{Symbol: "BTCUSDT", Price: 104250.5, PriceChangePercent: 2.45},
		{Symbol: "ETHUSDT", Price: 3890.25, PriceChangePercent: -1.23},
	})
	svc.ApplyTickers(ctx, []common.TickerStats{
		{Symbol: "BTCUSDT", Price: 104300, PriceChangePercent: 2.5},
	})

	tickers, err := database.ListTickers(ctx)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	for _, tk := range tickers {
		if tk.Symbol == "BTCUSDT" && tk.Price != 104300 {
			t.Fatalf("BTCUSDT not updated: %+v", tk)
		}
	}

	logs, err := database.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("successful ticker syncs must not log, got %d entries", len(logs))
	}
}

func TestRecordOrderAndCancel(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	ack := common.OrderAck{
		OrderID:       "98765",
		ClientOrderID: "cid-7",
		Symbol:        "ETHUSDT",
		Side:          common.SideSell,
		Type:          common.OrderTypeLimit,
		Quantity:      1.5,
		Price:         3950,
		Status:        common.StatusNew,
		Raw:           []byte(`{"orderId":98765,"status":"NEW"}`),
	}
	svc.RecordOrder(ctx, ack, 85*time.Millisecond)

	stored, err := database.GetOrderByExchangeID(ctx, "98765")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if stored == nil {
		t.Fatal("order not persisted")
	}
	if stored.Status != "NEW" || stored.Price == nil || *stored.Price != 3950 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
	if len(stored.RawResponse) == 0 {
		t.Fatal("raw response blob not persisted")
	}

	svc.RecordCancel(ctx, "98765", 40*time.Millisecond)
	stored, err = database.GetOrderByExchangeID(ctx, "98765")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID after cancel: %v", err)
	}
	if stored.Status != "CANCELED" {
		t.Fatalf("Status = %q, want CANCELED", stored.Status)
	}

	logs, err := database.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected one log per operation, got %d", len(logs))
	}
	for _, entry := range logs {
		if entry.LogType != LogOrder {
			t.Fatalf("LogType = %q, want ORDER", entry.LogType)
		}
	}
}

func TestApplyOpenOrdersAddsAndUpdates(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	open := []common.OpenOrder{
		{
			OrderID:   "5001",
			Symbol:    "BTCUSDT",
			Side:      common.SideBuy,
			Type:      common.OrderTypeLimit,
			Quantity:  0.02,
			Price:     101000,
			Status:    common.StatusNew,
			CreatedAt: time.Now().UTC(),
		},
		{
			OrderID:   "5002",
			Symbol:    "ETHUSDT",
			Side:      common.SideSell,
			Type:      common.OrderTypeStopLimit,
			Quantity:  1,
			Price:     4100,
			StopPrice: 4080,
			Status:    common.StatusNew,
			CreatedAt: time.Now().UTC(),
		},
	}
	svc.ApplyOpenOrders(ctx, open, 95*time.Millisecond)

	stored, err := database.GetOrderByExchangeID(ctx, "5002")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if stored == nil {
		t.Fatal("open order not folded into the store")
	}
	if stored.StopPrice == nil || *stored.StopPrice != 4080 {
		t.Fatalf("unexpected stop price: %+v", stored.StopPrice)
	}

	// Reconciling the same set again is a no-op and logs nothing new.
	svc.ApplyOpenOrders(ctx, open, 95*time.Millisecond)

	// A status change on the exchange side is picked up.
	open[0].Status = common.StatusPartiallyFilled
	svc.ApplyOpenOrders(ctx, open, 95*time.Millisecond)

	stored, err = database.GetOrderByExchangeID(ctx, "5001")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if stored.Status != string(common.StatusPartiallyFilled) {
		t.Fatalf("Status = %q, want PARTIALLY_FILLED", stored.Status)
	}

	logs, err := database.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected a log for the add pass and the update pass, got %d", len(logs))
	}
}

func TestRecordError(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	svc.RecordError(ctx, "ORDER", "insufficient balance", []byte(`{"code":-2019}`), 60*time.Millisecond)

	logs, err := database.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].LogType != LogError {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if logs[0].Message != "ORDER: insufficient balance" {
		t.Fatalf("Message = %q", logs[0].Message)
	}
}
