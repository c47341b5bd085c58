package db

// ChangeOp classifies a row change.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// Table names exposed through the change feed.
const (
	TableTickers   = "price_tickers"
	TableBalance   = "account_balance"
	TablePositions = "positions"
	TableOrders    = "orders"
	TableLogs      = "trading_logs"
)

// Change carries a row's post-image after a mutating query. For deletes the
// Row holds the removed row's key fields.
type Change struct {
	Table string   `json:"table"`
	Op    ChangeOp `json:"op"`
	Row   any      `json:"row"`
}

// OnChange registers a listener for row changes. Listeners run synchronously
// on the writer's goroutine, so deliveries arrive in commit order.
func (d *Database) OnChange(fn func(Change)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Database) emit(table string, op ChangeOp, row any) {
	d.mu.RLock()
	fns := d.listeners
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(Change{Table: table, Op: op, Row: row})
	}
}
