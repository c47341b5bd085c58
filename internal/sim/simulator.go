package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/common"
)

const defaultLeverage = 10

// Simulator produces a self-contained synthetic market: tickers, balance,
// positions and orders that stay mutually consistent across ticks. It never
// touches the network or the store; the sync loop reads it directly while in
// demo mode.
type Simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	tickers   []db.Ticker
	balance   db.Balance
	positions []db.Position
	orders    []db.Order
	seq       int
	now       func() time.Time
}

// New seeds a simulator with the stock demo dataset. Pass a rand.Source for
// deterministic walks in tests; nil seeds from the clock.
func New(src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	s := &Simulator{rng: rand.New(src), now: func() time.Time { return time.Now().UTC() }}
	s.seed()
	return s
}

func (s *Simulator) seed() {
	now := s.now()
	s.tickers = []db.Ticker{
		{Symbol: "BTCUSDT", Price: 104250.50, PriceChange: 1250.30, PriceChangePercent: 1.21, High24h: 105500, Low24h: 102800, Volume24h: 28500000000, UpdatedAt: now},
		{Symbol: "ETHUSDT", Price: 3890.25, PriceChange: -45.80, PriceChangePercent: -1.16, High24h: 3980, Low24h: 3850, Volume24h: 12400000000, UpdatedAt: now},
		{Symbol: "SOLUSDT", Price: 178.45, PriceChange: 5.23, PriceChangePercent: 3.02, High24h: 182, Low24h: 171, Volume24h: 3200000000, UpdatedAt: now},
		{Symbol: "BNBUSDT", Price: 715.80, PriceChange: 12.40, PriceChangePercent: 1.76, High24h: 725, Low24h: 698, Volume24h: 890000000, UpdatedAt: now},
		{Symbol: "XRPUSDT", Price: 2.45, PriceChange: 0.08, PriceChangePercent: 3.38, High24h: 2.52, Low24h: 2.35, Volume24h: 2100000000, UpdatedAt: now},
		{Symbol: "DOGEUSDT", Price: 0.4125, PriceChange: -0.0085, PriceChangePercent: -2.02, High24h: 0.428, Low24h: 0.405, Volume24h: 1850000000, UpdatedAt: now},
	}
	s.balance = db.Balance{
		Asset:            "USDT",
		TotalBalance:     25000.00,
		AvailableBalance: 18500.00,
		MarginBalance:    6500.00,
		UnrealizedPnl:    342.50,
		UpdatedAt:        now,
	}
	s.positions = []db.Position{
		{Symbol: "BTCUSDT", Side: "LONG", Size: 0.05, EntryPrice: 103500, MarkPrice: 104250.50, UnrealizedPnl: 37.53, Leverage: 10, UpdatedAt: now},
		{Symbol: "ETHUSDT", Side: "SHORT", Size: 1.5, EntryPrice: 3920, MarkPrice: 3890.25, UnrealizedPnl: 44.63, Leverage: 5, UpdatedAt: now},
		{Symbol: "SOLUSDT", Side: "LONG", Size: 25, EntryPrice: 172.80, MarkPrice: 178.45, UnrealizedPnl: 141.25, Leverage: 20, UpdatedAt: now},
	}
	limit102k := 102000.0
	limit175 := 175.0
	stop700 := 700.0
	s.orders = []db.Order{
		demoOrder("SIM001", "BTCUSDT", "BUY", "LIMIT", 0.02, &limit102k, "NEW", 0, now.Add(-1*time.Hour)),
		demoOrder("SIM002", "ETHUSDT", "SELL", "MARKET", 0.5, nil, "FILLED", 0.5, now.Add(-2*time.Hour)),
		demoOrder("SIM003", "SOLUSDT", "BUY", "LIMIT", 10, &limit175, "FILLED", 10, now.Add(-4*time.Hour)),
		demoOrder("SIM004", "BNBUSDT", "SELL", "STOP_LIMIT", 2, &stop700, "NEW", 0, now.Add(-6*time.Hour)),
		demoOrder("SIM005", "XRPUSDT", "BUY", "MARKET", 500, nil, "FILLED", 500, now.Add(-8*time.Hour)),
	}
	s.seq = len(s.orders)
}

func demoOrder(exchangeID, symbol, side, typ string, qty float64, price *float64, status string, filled float64, created time.Time) db.Order {
	id := exchangeID
	o := db.Order{
		ID:        uuid.NewString(),
		OrderID:   &id,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		Price:     price,
		Status:    status,
		FilledQty: filled,
		CreatedAt: created,
	}
	if status == "FILLED" {
		executed := created
		o.ExecutedAt = &executed
	}
	return o
}

// Tick advances every symbol one random-walk step (at most ±0.1%) and
// recomputes position marks and unrealized PnL from the walked prices, so a
// consumer never observes a ticker and a position disagreeing on price.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	prices := make(map[string]float64, len(s.tickers))
	for i := range s.tickers {
		tk := &s.tickers[i]
		base := tk.Price - tk.PriceChange // 24h-ago reference stays fixed across the walk
		next := tk.Price * (1 + (s.rng.Float64()-0.5)*0.002)
		tk.Price = round2(next)
		tk.PriceChange = round2(tk.Price - base)
		if base != 0 {
			tk.PriceChangePercent = round2(tk.PriceChange / base * 100)
		}
		if tk.Price > tk.High24h {
			tk.High24h = tk.Price
		}
		if tk.Price < tk.Low24h {
			tk.Low24h = tk.Price
		}
		tk.UpdatedAt = now
		prices[tk.Symbol] = tk.Price
	}

	var totalPnl float64
	for i := range s.positions {
		p := &s.positions[i]
		mark, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		p.MarkPrice = mark
		dir := 1.0
		if p.Side == string(common.PositionShort) {
			dir = -1
		}
		p.UnrealizedPnl = round2((mark - p.EntryPrice) * p.Size * dir)
		p.UpdatedAt = now
		totalPnl += p.UnrealizedPnl
	}
	s.balance.UnrealizedPnl = round2(totalPnl)
	s.balance.UpdatedAt = now
}

// PlaceOrder accepts an order against the synthetic market. MARKET orders
// fill immediately at the current ticker price and their effect on balance
// and positions is visible from the next read. LIMIT and STOP_LIMIT orders
// rest as NEW and are never filled automatically.
func (s *Simulator) PlaceOrder(req common.OrderRequest) (common.OrderAck, error) {
	if err := validate(req); err != nil {
		return common.OrderAck{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.price(req.Symbol)
	if !ok {
		return common.OrderAck{}, &common.ValidationError{Field: "symbol", Msg: "unknown symbol " + req.Symbol}
	}

	s.seq++
	now := s.now()
	exchangeID := fmt.Sprintf("SIM%03d", s.seq)
	ack := common.OrderAck{
		OrderID:       exchangeID,
		ClientOrderID: req.ClientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Status:        common.StatusNew,
	}

	row := db.Order{
		ID:            uuid.NewString(),
		OrderID:       &exchangeID,
		ClientOrderID: req.ClientID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		Quantity:      req.Quantity,
		Status:        string(common.StatusNew),
		CreatedAt:     now,
	}
	if req.Price > 0 {
		p := req.Price
		row.Price = &p
	}
	if req.StopPrice > 0 {
		sp := req.StopPrice
		row.StopPrice = &sp
	}

	if req.Type == common.OrderTypeMarket {
		ack.Status = common.StatusFilled
		ack.FilledQty = req.Quantity
		ack.AvgPrice = price
		row.Status = string(common.StatusFilled)
		row.FilledQty = req.Quantity
		avg := price
		row.AvgPrice = &avg
		executed := now
		row.ExecutedAt = &executed
		s.applyFill(req.Symbol, req.Side, req.Quantity, price, now)
	}

	// Newest first, matching the order-history view.
	s.orders = append([]db.Order{row}, s.orders...)
	return ack, nil
}

// CancelOrder flips a matching open order to CANCELED. Canceling an order
// already in a terminal state reports success without touching it.
func (s *Simulator) CancelOrder(symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.orders {
		o := &s.orders[i]
		if o.OrderID == nil || *o.OrderID != orderID || o.Symbol != symbol {
			continue
		}
		if common.OrderStatus(o.Status).Terminal() {
			return nil
		}
		o.Status = string(common.StatusCanceled)
		return nil
	}
	return &common.ValidationError{Field: "orderId", Msg: "unknown order " + orderID}
}

// Tickers returns a copy of the current ticker set.
func (s *Simulator) Tickers() []db.Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Ticker(nil), s.tickers...)
}

// Balance returns the current synthetic balance.
func (s *Simulator) Balance() db.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// Positions returns a copy of the open synthetic positions.
func (s *Simulator) Positions() []db.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Position(nil), s.positions...)
}

// Orders returns a copy of the synthetic order history, newest first.
func (s *Simulator) Orders() []db.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Order(nil), s.orders...)
}

func (s *Simulator) price(symbol string) (float64, bool) {
	for i := range s.tickers {
		if s.tickers[i].Symbol == symbol {
			return s.tickers[i].Price, true
		}
	}
	return 0, false
}

// applyFill nets a market fill into the position book. Fills in the position
// direction grow it at a volume-weighted entry; fills against it shrink it,
// realizing PnL into the balance; crossing through zero opens the opposite
// side with the remainder.
func (s *Simulator) applyFill(symbol string, side common.Side, qty, price float64, now time.Time) {
	signed := qty
	if side == common.SideSell {
		signed = -qty
	}

	idx := -1
	var current float64
	for i := range s.positions {
		if s.positions[i].Symbol == symbol {
			idx = i
			current = s.positions[i].Size
			if s.positions[i].Side == string(common.PositionShort) {
				current = -current
			}
			break
		}
	}

	next := current + signed
	switch {
	case idx < 0:
		s.positions = append(s.positions, db.Position{
			Symbol:     symbol,
			Side:       sideOf(next),
			Size:       math.Abs(next),
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   defaultLeverage,
			UpdatedAt:  now,
		})
	case next == 0:
		s.realize(symbol, current, price)
		s.positions = append(s.positions[:idx], s.positions[idx+1:]...)
	case sameSign(current, next) && math.Abs(next) > math.Abs(current):
		p := &s.positions[idx]
		p.EntryPrice = round2((p.EntryPrice*math.Abs(current) + price*qty) / math.Abs(next))
		p.Size = math.Abs(next)
		p.UpdatedAt = now
	case sameSign(current, next):
		s.realize(symbol, current-next, price)
		p := &s.positions[idx]
		p.Size = math.Abs(next)
		p.UpdatedAt = now
	default: // crossed zero
		s.realize(symbol, current, price)
		s.positions[idx] = db.Position{
			Symbol:     symbol,
			Side:       sideOf(next),
			Size:       math.Abs(next),
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   defaultLeverage,
			UpdatedAt:  now,
		}
	}
}

// realize books the closed quantity's PnL into the balance. closedSigned is
// the signed quantity leaving the book.
func (s *Simulator) realize(symbol string, closedSigned, price float64) {
	for i := range s.positions {
		p := &s.positions[i]
		if p.Symbol != symbol {
			continue
		}
		dir := 1.0
		if closedSigned < 0 {
			dir = -1
		}
		pnl := round2((price - p.EntryPrice) * math.Abs(closedSigned) * dir)
		s.balance.TotalBalance = round2(s.balance.TotalBalance + pnl)
		s.balance.AvailableBalance = round2(s.balance.AvailableBalance + pnl)
		return
	}
}

func validate(req common.OrderRequest) error {
	if req.Symbol == "" {
		return &common.ValidationError{Field: "symbol", Msg: "symbol is required"}
	}
	if req.Quantity <= 0 {
		return &common.ValidationError{Field: "quantity", Msg: "quantity must be positive"}
	}
	switch req.Type {
	case common.OrderTypeMarket:
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return &common.ValidationError{Field: "price", Msg: "price is required for LIMIT orders"}
		}
	case common.OrderTypeStopLimit:
		if req.Price <= 0 {
			return &common.ValidationError{Field: "price", Msg: "price is required for STOP_LIMIT orders"}
		}
		if req.StopPrice <= 0 {
			return &common.ValidationError{Field: "stopPrice", Msg: "stopPrice is required for STOP_LIMIT orders"}
		}
	default:
		return &common.ValidationError{Field: "type", Msg: "unsupported order type " + string(req.Type)}
	}
	return nil
}

func sideOf(signed float64) string {
	if signed < 0 {
		return string(common.PositionShort)
	}
	return string(common.PositionLong)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
