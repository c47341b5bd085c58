package futures

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"futures-desk/pkg/exchange/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{APIKey: "test-key", APISecret: "test-secret", BaseURL: srv.URL})
	return c, srv
}

func TestPlaceOrderValidationSkipsNetwork(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	tests := []struct {
		name string
		req  common.OrderRequest
	}{
		{
			name: "limit without price",
			req:  common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Quantity: 1},
		},
		{
			name: "stop limit without stop price",
			req:  common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeStopLimit, Quantity: 1, Price: 100},
		},
		{
			name: "stop limit without price",
			req:  common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopLimit, Quantity: 1, StopPrice: 100},
		},
		{
			name: "zero quantity",
			req:  common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket},
		},
		{
			name: "missing symbol",
			req:  common.OrderRequest{Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.PlaceOrder(context.Background(), tt.req)
			if !common.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("validation failures issued %d network calls, want 0", n)
	}
}

func TestPlaceOrderSignedRequest(t *testing.T) {
	var gotQuery, gotKey, gotMethod, gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-KEY")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"orderId":12345,"clientOrderId":"cid-1","symbol":"BTCUSDT","side":"BUY","type":"MARKET","origQty":"0.5","executedQty":"0.5","avgPrice":"50000.0","status":"FILLED"}`))
	})

	ack, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 0.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/order" {
		t.Fatalf("request = %s %s, want POST /order", gotMethod, gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("X-API-KEY = %q", gotKey)
	}
	sigIdx := strings.Index(gotQuery, "&signature=")
	if sigIdx < 0 {
		t.Fatalf("query %q carries no signature", gotQuery)
	}
	signed := gotQuery[:sigIdx]
	sig := gotQuery[sigIdx+len("&signature="):]
	if want := Sign(signed, "test-secret"); sig != want {
		t.Fatalf("signature %q does not cover the literal query string (want %q)", sig, want)
	}
	if !strings.HasPrefix(signed, "symbol=BTCUSDT&side=BUY&type=MARKET&quantity=0.5&timestamp=") {
		t.Fatalf("unexpected parameter order: %q", signed)
	}

	if ack.OrderID != "12345" || ack.Status != common.StatusFilled || ack.FilledQty != 0.5 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestPlaceOrderExchangeRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 100,
	})
	var rej *common.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.HTTPStatus != http.StatusBadRequest || rej.Msg != "Margin is insufficient." {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
}

func TestNonJSONErrorBodyIsTransport(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// An intermediary answering for the venue, not the venue itself.
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html><body>502 Bad Gateway</body></html>`))
			return
		}
		w.Write([]byte(`{"assets":[{"asset":"USDT","walletBalance":"25000","availableBalance":"18500","marginBalance":"6500","unrealizedProfit":"342.5"}],"positions":[]}`))
	})

	snap, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if snap.WalletBalance != 25000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected the gateway error to be retried, got %d attempts", n)
	}

	// The same body on a non-retried call surfaces as a transport failure,
	// never as an exchange decline.
	c2, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html><body>502 Bad Gateway</body></html>`))
	})
	_, err = c2.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 0.01,
	})
	if !common.IsTransport(err) {
		t.Fatalf("expected TransportError for non-JSON error body, got %v", err)
	}
	if common.IsRejected(err) {
		t.Fatalf("gateway page misread as an exchange rejection: %v", err)
	}
}

func TestTimestampMonotonic(t *testing.T) {
	c := NewClient(Config{APIKey: "k", APISecret: "s"})
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		ts := c.now()
		if ts <= prev {
			t.Fatalf("timestamp %d not strictly greater than %d", ts, prev)
		}
		prev = ts
	}
}

func TestGetAccountRetriesOnTransportError(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Malformed body on a 2xx decodes as a transport failure upstream,
			// but here we exercise the retry path with a dropped connection.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"assets":[{"asset":"USDT","walletBalance":"25000","availableBalance":"18500","marginBalance":"6500","unrealizedProfit":"342.5"}],"positions":[]}`))
	})

	snap, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if snap.WalletBalance != 25000 || snap.AvailableBalance != 18500 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestGetAccountParsesPositions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"assets":[{"asset":"USDT","walletBalance":"1000","availableBalance":"900","marginBalance":"100","unrealizedProfit":"5"}],
			"positions":[
				{"symbol":"BTCUSDT","positionAmt":"0.05","entryPrice":"103500","markPrice":"104250.5","unrealizedProfit":"37.53","leverage":"10","marginType":"cross","liquidationPrice":"95000"},
				{"symbol":"ETHUSDT","positionAmt":"-1.5","entryPrice":"3920","markPrice":"3890.25","unrealizedProfit":"44.63","leverage":"5","marginType":"cross","liquidationPrice":"0"},
				{"symbol":"SOLUSDT","positionAmt":"0","entryPrice":"0","markPrice":"0","unrealizedProfit":"0","leverage":"20","marginType":"cross","liquidationPrice":"0"}
			]}`))
	})

	snap, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if len(snap.Positions) != 3 {
		t.Fatalf("zero-size positions must be included, got %d rows", len(snap.Positions))
	}
	if snap.Positions[1].Quantity != -1.5 {
		t.Fatalf("short position quantity = %v, want signed -1.5", snap.Positions[1].Quantity)
	}
}
