package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/common"
)

// Log categories written to trading_logs.
const (
	LogOrder   = "ORDER"
	LogBalance = "BALANCE"
	LogPrice   = "PRICE"
	LogError   = "ERROR"
)

// Service projects exchange truth into the durable store. Every apply is a
// full replace of the affected rows, so re-applying the same snapshot is a
// no-op. Store failures after a confirmed exchange effect are logged and
// swallowed: the exchange already holds the order, losing the local row must
// not surface as a command failure.
type Service struct {
	database *db.Database
	retain   int // trading_logs retention cap
}

// NewService creates a reconciliation service over the store.
func NewService(database *db.Database, retainLogs int) *Service {
	if retainLogs <= 0 {
		retainLogs = 500
	}
	return &Service{database: database, retain: retainLogs}
}

// ApplyAccount replaces the balance wholesale and upserts every reported
// position. Positions reported with zero quantity are deleted locally.
func (s *Service) ApplyAccount(ctx context.Context, snap common.AccountSnapshot, latency time.Duration) {
	now := time.Now().UTC()

	bal := db.Balance{
		Asset:            snap.Asset,
		TotalBalance:     snap.WalletBalance,
		AvailableBalance: snap.AvailableBalance,
		MarginBalance:    snap.MarginBalance,
		UnrealizedPnl:    snap.UnrealizedProfit,
		UpdatedAt:        now,
	}
	if err := s.database.ReplaceBalance(ctx, bal); err != nil {
		s.persistFailure(ctx, db.TableBalance, err)
		return
	}

	for _, pos := range snap.Positions {
		if pos.Quantity == 0 {
			if err := s.database.DeletePosition(ctx, pos.Symbol); err != nil {
				s.persistFailure(ctx, db.TablePositions, err)
			}
			continue
		}
		side := string(common.PositionLong)
		if pos.Quantity < 0 {
			side = string(common.PositionShort)
		}
		row := db.Position{
			Symbol:        pos.Symbol,
			Side:          side,
			Size:          math.Abs(pos.Quantity),
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			Leverage:      pos.Leverage,
			UnrealizedPnl: pos.UnrealizedProfit,
			MarginType:    pos.MarginType,
			UpdatedAt:     now,
		}
		if pos.LiquidationPrice > 0 {
			lp := pos.LiquidationPrice
			row.LiquidationPrice = &lp
		}
		if err := s.database.UpsertPosition(ctx, row); err != nil {
			s.persistFailure(ctx, db.TablePositions, err)
		}
	}

	s.appendLog(ctx, LogBalance,
		fmt.Sprintf("Account synced: %.2f %s, %d positions", snap.WalletBalance, snap.Asset, len(snap.Positions)),
		nil, latency)
}

// ApplyTickers upserts one price_tickers row per reported symbol. Ticker
// syncs are high frequency, so only failures produce a log entry.
func (s *Service) ApplyTickers(ctx context.Context, stats []common.TickerStats) {
	now := time.Now().UTC()
	for _, st := range stats {
		row := db.Ticker{
			Symbol:             st.Symbol,
			Price:              st.Price,
			PriceChange:        st.PriceChange,
			PriceChangePercent: st.PriceChangePercent,
			High24h:            st.High24h,
			Low24h:             st.Low24h,
			Volume24h:          st.Volume24h,
			UpdatedAt:          now,
		}
		if err := s.database.UpsertTicker(ctx, row); err != nil {
			s.persistFailure(ctx, db.TableTickers, err)
			s.appendLog(ctx, LogPrice, fmt.Sprintf("Ticker write failed for %s: %v", st.Symbol, err), nil, 0)
		}
	}
}

// RecordOrder persists an exchange-acknowledged order with its raw response.
func (s *Service) RecordOrder(ctx context.Context, ack common.OrderAck, latency time.Duration) {
	now := time.Now().UTC()
	orderID := ack.OrderID
	row := db.Order{
		ID:            uuid.NewString(),
		OrderID:       &orderID,
		ClientOrderID: ack.ClientOrderID,
		Symbol:        ack.Symbol,
		Side:          string(ack.Side),
		Type:          string(ack.Type),
		Quantity:      ack.Quantity,
		Status:        string(ack.Status),
		FilledQty:     ack.FilledQty,
		RawResponse:   ack.Raw,
		CreatedAt:     now,
	}
	if ack.Price > 0 {
		p := ack.Price
		row.Price = &p
	}
	if ack.StopPrice > 0 {
		sp := ack.StopPrice
		row.StopPrice = &sp
	}
	if ack.AvgPrice > 0 {
		ap := ack.AvgPrice
		row.AvgPrice = &ap
	}
	if ack.Status == common.StatusFilled {
		executed := now
		row.ExecutedAt = &executed
	}

	if err := s.database.InsertOrder(ctx, row); err != nil {
		s.persistFailure(ctx, db.TableOrders, err)
		return
	}

	details, _ := json.Marshal(map[string]any{
		"orderId": ack.OrderID,
		"status":  ack.Status,
	})
	s.appendLog(ctx, LogOrder,
		fmt.Sprintf("%s %s %s %v @ %s", ack.Side, ack.Type, ack.Symbol, ack.Quantity, ack.Status),
		details, latency)
}

// ApplyOpenOrders folds the exchange's resting orders into the store: rows
// the store has never seen are inserted (orders placed outside this session),
// stale statuses on known rows are refreshed.
func (s *Service) ApplyOpenOrders(ctx context.Context, orders []common.OpenOrder, latency time.Duration) {
	var added, updated int
	for _, oo := range orders {
		existing, err := s.database.GetOrderByExchangeID(ctx, oo.OrderID)
		if err != nil {
			s.persistFailure(ctx, db.TableOrders, err)
			continue
		}
		if existing == nil {
			orderID := oo.OrderID
			row := db.Order{
				ID:            uuid.NewString(),
				OrderID:       &orderID,
				ClientOrderID: oo.ClientOrderID,
				Symbol:        oo.Symbol,
				Side:          string(oo.Side),
				Type:          string(oo.Type),
				Quantity:      oo.Quantity,
				Status:        string(oo.Status),
				FilledQty:     oo.FilledQty,
				CreatedAt:     oo.CreatedAt,
			}
			if oo.Price > 0 {
				p := oo.Price
				row.Price = &p
			}
			if oo.StopPrice > 0 {
				sp := oo.StopPrice
				row.StopPrice = &sp
			}
			if err := s.database.InsertOrder(ctx, row); err != nil {
				s.persistFailure(ctx, db.TableOrders, err)
				continue
			}
			added++
			continue
		}
		if existing.Status != string(oo.Status) {
			if err := s.database.UpdateOrderStatus(ctx, oo.OrderID, string(oo.Status)); err != nil {
				s.persistFailure(ctx, db.TableOrders, err)
				continue
			}
			updated++
		}
	}
	if added > 0 || updated > 0 {
		s.appendLog(ctx, LogOrder,
			fmt.Sprintf("Open orders synced: %d added, %d updated", added, updated), nil, latency)
	}
}

// RecordCancel marks the stored order CANCELED.
func (s *Service) RecordCancel(ctx context.Context, orderID string, latency time.Duration) {
	if err := s.database.UpdateOrderStatus(ctx, orderID, string(common.StatusCanceled)); err != nil {
		s.persistFailure(ctx, db.TableOrders, err)
		return
	}
	s.appendLog(ctx, LogOrder, fmt.Sprintf("Order %s canceled", orderID), nil, latency)
}

// RecordError appends an ERROR log entry for a failed command or poll.
func (s *Service) RecordError(ctx context.Context, category, msg string, details []byte, latency time.Duration) {
	s.appendLog(ctx, LogError, category+": "+msg, details, latency)
}

func (s *Service) appendLog(ctx context.Context, logType, msg string, details []byte, latency time.Duration) {
	entry := db.LogEntry{
		ID:        uuid.NewString(),
		LogType:   logType,
		Message:   msg,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if latency > 0 {
		ms := latency.Milliseconds()
		entry.LatencyMs = &ms
	}
	if err := s.database.InsertLog(ctx, entry); err != nil {
		log.Printf("❌ Log write failed (%s): %v", logType, err)
		return
	}
	if err := s.database.PruneLogs(ctx, s.retain); err != nil {
		log.Printf("❌ Log prune failed: %v", err)
	}
}

func (s *Service) persistFailure(ctx context.Context, table string, err error) {
	perr := &common.PersistenceError{Table: table, Err: err}
	log.Printf("❌ %v", perr)
	s.appendLog(ctx, LogError, perr.Error(), nil, 0)
}
