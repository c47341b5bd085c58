package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the desk supports.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether a status can never change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// PositionSide denotes the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    float64
	Price       float64 // required for LIMIT and STOP_LIMIT
	StopPrice   float64 // required for STOP_LIMIT
	TimeInForce TimeInForce
	ClientID    string // optional client correlation id
}

// OrderAck is the exchange's acknowledgment of a placed order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	Status        OrderStatus
	FilledQty     float64
	AvgPrice      float64
	Raw           []byte // exchange response body, persisted for audit
}

// AccountPosition is a position as reported by the exchange. Quantity is
// signed: positive long, negative short, zero closed. Callers filter zeros.
type AccountPosition struct {
	Symbol           string
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	Leverage         int
	MarginType       string
	LiquidationPrice float64
}

// AccountSnapshot is the full account view returned by the exchange. It is
// always complete: balance figures are replaced wholesale, never merged.
type AccountSnapshot struct {
	Asset            string
	WalletBalance    float64
	AvailableBalance float64
	MarginBalance    float64
	UnrealizedProfit float64
	Positions        []AccountPosition
	FetchedAt        time.Time
}

// OpenOrder is an order currently resting on the exchange.
type OpenOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	Status        OrderStatus
	FilledQty     float64
	CreatedAt     time.Time
}

// TickerStats is a 24h rolling ticker for one symbol.
type TickerStats struct {
	Symbol             string
	Price              float64
	PriceChange        float64
	PriceChangePercent float64
	High24h            float64
	Low24h             float64
	Volume24h          float64
}
