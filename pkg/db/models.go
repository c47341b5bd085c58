package db

import "time"

// Ticker is a 24h rolling price row, keyed by symbol. Mutated only by
// poll/push refresh, never user-created.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChange        float64   `json:"priceChange"`
	PriceChangePercent float64   `json:"priceChangePercent"`
	High24h            float64   `json:"high24h"`
	Low24h             float64   `json:"low24h"`
	Volume24h          float64   `json:"volume24h"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Balance is the single tracked account balance row. It is replaced
// wholesale on every successful account fetch.
type Balance struct {
	Asset            string    `json:"asset"`
	TotalBalance     float64   `json:"totalBalance"`
	AvailableBalance float64   `json:"availableBalance"`
	MarginBalance    float64   `json:"marginBalance"`
	UnrealizedPnl    float64   `json:"unrealizedPnl"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Position is one open position, keyed by symbol. A position reduced to zero
// size is deleted, never stored with size 0.
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"` // LONG or SHORT
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entryPrice"`
	MarkPrice        float64   `json:"markPrice"`
	Leverage         int       `json:"leverage"`
	UnrealizedPnl    float64   `json:"unrealizedPnl"`
	MarginType       string    `json:"marginType,omitempty"`
	LiquidationPrice *float64  `json:"liquidationPrice,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Order is a persisted order row. Only the reconciliation service writes
// server-confirmed fields.
type Order struct {
	ID            string     `json:"id"`
	OrderID       *string    `json:"orderId"` // exchange-assigned, nil until acknowledged
	ClientOrderID string     `json:"clientOrderId"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	Quantity      float64    `json:"quantity"`
	Price         *float64   `json:"price"`
	StopPrice     *float64   `json:"stopPrice,omitempty"`
	Status        string     `json:"status"`
	FilledQty     float64    `json:"filledQuantity"`
	AvgPrice      *float64   `json:"averagePrice"`
	Commission    float64    `json:"commission"`
	RawResponse   []byte     `json:"-"` // opaque exchange response, audit only
	CreatedAt     time.Time  `json:"createdAt"`
	ExecutedAt    *time.Time `json:"executedAt"`
}

// LogEntry is an append-only operational log row, immutable once written.
type LogEntry struct {
	ID        string    `json:"id"`
	LogType   string    `json:"logType"` // ORDER, BALANCE, PRICE, ERROR
	Message   string    `json:"message"`
	Details   []byte    `json:"details,omitempty"` // structured JSON blob
	LatencyMs *int64    `json:"latencyMs,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a dashboard account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
