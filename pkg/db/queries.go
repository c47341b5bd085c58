package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// UpsertTicker stores the latest 24h stats for a symbol and emits a change.
func (d *Database) UpsertTicker(ctx context.Context, t Ticker) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO price_tickers (symbol, price, price_change, price_change_percent, high_24h, low_24h, volume_24h, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			price_change = excluded.price_change,
			price_change_percent = excluded.price_change_percent,
			high_24h = excluded.high_24h,
			low_24h = excluded.low_24h,
			volume_24h = excluded.volume_24h,
			updated_at = excluded.updated_at
	`, t.Symbol, t.Price, t.PriceChange, t.PriceChangePercent, t.High24h, t.Low24h, t.Volume24h, t.UpdatedAt)
	if err != nil {
		return err
	}
	d.emit(TableTickers, OpUpdate, t)
	return nil
}

// ListTickers returns all tracked tickers ordered by symbol.
func (d *Database) ListTickers(ctx context.Context) ([]Ticker, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, price, price_change, price_change_percent, high_24h, low_24h, volume_24h, updated_at
		FROM price_tickers ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Ticker
	for rows.Next() {
		var t Ticker
		if err := rows.Scan(&t.Symbol, &t.Price, &t.PriceChange, &t.PriceChangePercent, &t.High24h, &t.Low24h, &t.Volume24h, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ReplaceBalance overwrites the single balance row wholesale. The exchange
// response is always a complete snapshot; fields are never merged.
func (d *Database) ReplaceBalance(ctx context.Context, b Balance) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO account_balance (id, asset, total_balance, available_balance, margin_balance, unrealized_pnl, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			asset = excluded.asset,
			total_balance = excluded.total_balance,
			available_balance = excluded.available_balance,
			margin_balance = excluded.margin_balance,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at
	`, b.Asset, b.TotalBalance, b.AvailableBalance, b.MarginBalance, b.UnrealizedPnl, b.UpdatedAt)
	if err != nil {
		return err
	}
	d.emit(TableBalance, OpUpdate, b)
	return nil
}

// GetBalance returns the stored balance row, or nil when none exists yet.
func (d *Database) GetBalance(ctx context.Context) (*Balance, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT asset, total_balance, available_balance, margin_balance, unrealized_pnl, updated_at
		FROM account_balance WHERE id = 1`)
	var b Balance
	if err := row.Scan(&b.Asset, &b.TotalBalance, &b.AvailableBalance, &b.MarginBalance, &b.UnrealizedPnl, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, size, entry_price, mark_price, leverage, unrealized_pnl, margin_type, liquidation_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			size = excluded.size,
			entry_price = excluded.entry_price,
			mark_price = excluded.mark_price,
			leverage = excluded.leverage,
			unrealized_pnl = excluded.unrealized_pnl,
			margin_type = excluded.margin_type,
			liquidation_price = excluded.liquidation_price,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Side, p.Size, p.EntryPrice, p.MarkPrice, p.Leverage, p.UnrealizedPnl, p.MarginType, p.LiquidationPrice, p.UpdatedAt)
	if err != nil {
		return err
	}
	d.emit(TablePositions, OpUpdate, p)
	return nil
}

// DeletePosition removes a position row; closure propagates as a delete. The
// change event fires only when a row actually existed.
func (d *Database) DeletePosition(ctx context.Context, symbol string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.emit(TablePositions, OpDelete, Position{Symbol: symbol})
	}
	return nil
}

// ListPositions returns all open positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, side, size, entry_price, mark_price, leverage, unrealized_pnl, margin_type, liquidation_price, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Side, &p.Size, &p.EntryPrice, &p.MarkPrice, &p.Leverage, &p.UnrealizedPnl, &p.MarginType, &p.LiquidationPrice, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InsertOrder stores a fresh order row.
func (d *Database) InsertOrder(ctx context.Context, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_id, client_order_id, symbol, side, order_type, quantity,
			price, stop_price, status, filled_quantity, average_price, commission,
			raw_response, created_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.OrderID, o.ClientOrderID, o.Symbol, o.Side, o.Type, o.Quantity,
		o.Price, o.StopPrice, o.Status, o.FilledQty, o.AvgPrice, o.Commission,
		string(o.RawResponse), o.CreatedAt, o.ExecutedAt,
	)
	if err != nil {
		return err
	}
	d.emit(TableOrders, OpInsert, o)
	return nil
}

// UpdateOrderStatus sets the status of an order identified by its
// exchange-assigned id.
func (d *Database) UpdateOrderStatus(ctx context.Context, exchangeOrderID, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE order_id = ?`, status, exchangeOrderID)
	if err != nil {
		return err
	}
	o, err := d.GetOrderByExchangeID(ctx, exchangeOrderID)
	if err == nil && o != nil {
		d.emit(TableOrders, OpUpdate, *o)
	}
	return nil
}

// GetOrderByExchangeID fetches one order row by exchange order id, or nil.
func (d *Database) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, selectOrders+` WHERE order_id = ?`, exchangeOrderID)
	return scanOrder(row)
}

const selectOrders = `
	SELECT id, order_id, client_order_id, symbol, side, order_type, quantity,
	       price, stop_price, status, filled_quantity, average_price, commission,
	       raw_response, created_at, executed_at
	FROM orders`

// ListOrders returns the most recent orders, newest first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, selectOrders+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		o, err := scanOrderFields(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderFields(s rowScanner) (Order, error) {
	var (
		o   Order
		raw sql.NullString
	)
	err := s.Scan(
		&o.ID, &o.OrderID, &o.ClientOrderID, &o.Symbol, &o.Side, &o.Type, &o.Quantity,
		&o.Price, &o.StopPrice, &o.Status, &o.FilledQty, &o.AvgPrice, &o.Commission,
		&raw, &o.CreatedAt, &o.ExecutedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if raw.Valid {
		o.RawResponse = []byte(raw.String)
	}
	return o, nil
}

func scanOrder(row *sql.Row) (*Order, error) {
	o, err := scanOrderFields(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// InsertLog appends an operational log row and prunes beyond the retention
// cap. Entries are immutable once written.
func (d *Database) InsertLog(ctx context.Context, e LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(e.Details) > 0 {
		details = string(e.Details)
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trading_logs (id, log_type, message, details, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.LogType, e.Message, details, e.LatencyMs, e.CreatedAt)
	if err != nil {
		return err
	}
	d.emit(TableLogs, OpInsert, e)
	return nil
}

// ListLogs returns the newest log entries first.
func (d *Database) ListLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, log_type, message, details, latency_ms, created_at
		FROM trading_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LogType, &e.Message, &details, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			e.Details = []byte(details.String)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// PruneLogs keeps only the newest keep rows.
func (d *Database) PruneLogs(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM trading_logs WHERE id NOT IN (
			SELECT id FROM trading_logs ORDER BY created_at DESC, id DESC LIMIT ?
		)`, keep)
	return err
}

// GetSetting reads a settings value; empty string when absent.
func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// SetSetting upserts a settings value.
func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
