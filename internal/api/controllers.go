package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"futures-desk/internal/mode"
	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/common"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// getSnapshot returns the full desk snapshot.
func (s *Server) getSnapshot(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// getPrices returns the tracked tickers as a list.
func (s *Server) getPrices(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	prices := make([]db.Ticker, 0, len(snap.Tickers))
	for _, tk := range snap.Tickers {
		prices = append(prices, tk)
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices, "updated_at": snap.UpdatedAt})
}

func (s *Server) getBalance(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": snap.Balance})
}

func (s *Server) getPositions(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": snap.Positions})
}

func (s *Server) getOrders(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": snap.Orders})
}

// getLogs returns the newest operational log entries.
func (s *Server) getLogs(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.DB.ListLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	snap, err := s.Sync.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":           snap.Mode,
		"connected":      snap.Connected,
		"venue":          s.Meta.Venue,
		"symbols":        s.Meta.Symbols,
		"version":        s.Meta.Version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

type placeOrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	StopPrice   float64 `json:"stopPrice"`
	TimeInForce string  `json:"timeInForce"`
}

// placeOrder routes an order command through the sync controller.
func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	ack, err := s.Sync.PlaceOrder(c.Request.Context(), common.OrderRequest{
		Symbol:      req.Symbol,
		Side:        common.Side(req.Side),
		Type:        common.OrderType(req.Type),
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: common.TimeInForce(req.TimeInForce),
	})
	if err != nil {
		writeCommandError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":        ack.OrderID,
		"client_order_id": ack.ClientOrderID,
		"status":          ack.Status,
		"filled_quantity": ack.FilledQty,
		"average_price":   ack.AvgPrice,
	})
}

// cancelOrder cancels an order by its exchange id.
func (s *Server) cancelOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_SYMBOL", "error": "symbol query parameter required"})
		return
	}

	if err := s.Sync.CancelOrder(c.Request.Context(), symbol, orderID); err != nil {
		writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "CANCELED"})
}

// setMode switches between live and demo data.
func (s *Server) setMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	m := mode.Mode(req.Mode)
	if m != mode.Live && m != mode.Demo {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be LIVE or DEMO"})
		return
	}

	if err := s.Sync.SetMode(c.Request.Context(), m); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": m})
}

// refresh forces an immediate poll of one aggregate.
func (s *Server) refresh(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	kind := c.Param("kind")
	switch kind {
	case "prices":
		err = s.Sync.RefreshPrices(ctx)
	case "account":
		err = s.Sync.RefreshAccount(ctx)
	case "orders":
		err = s.Sync.RefreshOrders(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_KIND", "error": "kind must be prices, account or orders"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SYNC_UNAVAILABLE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"refreshing": kind})
}

// writeCommandError maps command failures onto HTTP statuses: caller
// mistakes are 400, exchange declines 422, connectivity problems 502.
func writeCommandError(c *gin.Context, err error) {
	var vErr *common.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "field": vErr.Field, "error": vErr.Error()})
		return
	}
	var rErr *common.RejectedError
	if errors.As(err, &rErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "EXCHANGE_REJECTED", "exchange_code": rErr.Code, "error": rErr.Error()})
		return
	}
	if common.IsTransport(err) {
		c.JSON(http.StatusBadGateway, gin.H{"code": "TRANSPORT_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
}
