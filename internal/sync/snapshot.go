package sync

import (
	"time"

	"futures-desk/internal/mode"
	"futures-desk/pkg/db"
)

// Snapshot is the single externally observed view of the desk: the active
// source's tickers, balance, positions and order history plus connectivity
// and loading flags. Consumers receive copies; the controller goroutine owns
// the live instance.
type Snapshot struct {
	Tickers   map[string]db.Ticker `json:"tickers"`
	Balance   *db.Balance          `json:"balance"`
	Positions []db.Position        `json:"positions"`
	Orders    []db.Order           `json:"orders"`
	Mode      mode.Mode            `json:"mode"`
	Connected bool                 `json:"connected"`
	Loading   bool                 `json:"loading"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func (s *Snapshot) clone() Snapshot {
	out := Snapshot{
		Mode:      s.Mode,
		Connected: s.Connected,
		Loading:   s.Loading,
		UpdatedAt: s.UpdatedAt,
	}
	out.Tickers = make(map[string]db.Ticker, len(s.Tickers))
	for k, v := range s.Tickers {
		out.Tickers[k] = v
	}
	if s.Balance != nil {
		b := *s.Balance
		out.Balance = &b
	}
	out.Positions = append([]db.Position(nil), s.Positions...)
	out.Orders = append([]db.Order(nil), s.Orders...)
	return out
}
