package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestBingX(t *testing.T, handler http.HandlerFunc) *BingXAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := NewBingX("test-key", "test-secret", false)
	adapter.baseURL = server.URL
	adapter.httpClient = server.Client()
	return adapter
}

func TestBingXStatusNormalization(t *testing.T) {
	tests := []struct {
		native   string
		expected OrderStatus
	}{
		{"FILLED", StatusFilled},
		{"CANCELLED", StatusCancelled},
		{"CANCELED", StatusCancelled},
		{"EXPIRED", StatusCancelled},
		{"FAILED", StatusRejected},
		{"NEW", StatusOpen},
		{"PENDING", StatusOpen},
		{"PARTIALLY_FILLED", StatusOpen},
		{"???", StatusUnknown},
	}

	for _, tt := range tests {
		if got := bingxStatus(tt.native); got != tt.expected {
			t.Errorf("bingxStatus(%q) = %q, want %q", tt.native, got, tt.expected)
		}
	}
}

func TestBingXQuerySignature(t *testing.T) {
	var gotQuery, gotKey string

	adapter := newTestBingX(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-BX-APIKEY")
		w.Write([]byte(`{"code":0,"msg":"","data":{"orders":[]}}`))
	})

	if _, err := adapter.OpenOrderIDs(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}

	idx := strings.LastIndex(gotQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("signature param missing in %q", gotQuery)
	}
	payload := gotQuery[:idx]
	signature := gotQuery[idx+len("&signature="):]

	h := hmac.New(sha256.New, []byte("test-secret"))
	h.Write([]byte(payload))
	expected := hex.EncodeToString(h.Sum(nil))

	if signature != expected {
		t.Errorf("signature mismatch: got %q, want %q", signature, expected)
	}
}

func TestBingXErrorClassification(t *testing.T) {
	adapter := newTestBingX(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":100410,"msg":"rate limit exceeded"}`))
	})

	_, err := adapter.Positions(context.Background(), "BTC-USDT")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRateLimit(err) {
		t.Errorf("code 100410 must classify as rate limit: %v", err)
	}
}

func TestBingXPositionSideForOrder(t *testing.T) {
	tests := []struct {
		name     string
		spec     OrderSpec
		expected string
	}{
		{"open long", OrderSpec{Side: SideBuy}, "LONG"},
		{"open short", OrderSpec{Side: SideSell}, "SHORT"},
		{"reduce-only TP for long", OrderSpec{Side: SideSell, ReduceOnly: true}, "LONG"},
		{"reduce-only TP for short", OrderSpec{Side: SideBuy, ReduceOnly: true}, "SHORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bingxPositionSide(tt.spec); got != tt.expected {
				t.Errorf("bingxPositionSide = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBingXCreateOrder(t *testing.T) {
	adapter := newTestBingX(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openApi/swap/v2/trade/order" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("clientOrderID") != "link-1" {
			t.Errorf("clientOrderID = %q", q.Get("clientOrderID"))
		}
		if q.Get("type") != "LIMIT" {
			t.Errorf("type = %q", q.Get("type"))
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"order":{"orderId":123456}}}`))
	})

	orderID, err := adapter.CreateOrder(context.Background(), OrderSpec{
		Symbol:      "BTC-USDT",
		Side:        SideBuy,
		Qty:         0.01,
		Price:       50000,
		OrderLinkID: "link-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "123456" {
		t.Errorf("orderID = %q", orderID)
	}
}

func TestBingXClosedPnlAllSymbols(t *testing.T) {
	// пустой symbol означает выборку по всем символам и не должен
	// попадать в параметры запроса
	adapter := newTestBingX(t, func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["symbol"]; present {
			t.Errorf("empty symbol must be omitted, query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"fill_orders":[
			{"orderId":12,"symbol":"ETH-USDT","side":"SELL","price":"3100","volume":"0.5","profit":"50","filledTime":1700000003000}
		]}}`))
	})

	events, err := adapter.ClosedPnl(context.Background(), "", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].OrderID != "12" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestBingXClosedPnlSkipsZeroProfit(t *testing.T) {
	adapter := newTestBingX(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"","data":{"fill_orders":[
			{"orderId":10,"symbol":"BTC-USDT","side":"SELL","price":"51000","volume":"0.1","profit":"100","filledTime":1700000002000},
			{"orderId":11,"symbol":"BTC-USDT","side":"BUY","price":"50000","volume":"0.1","profit":"0","filledTime":1700000001000}
		]}}`))
	})

	events, err := adapter.ClosedPnl(context.Background(), "BTC-USDT", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].OrderID != "10" || events[0].ClosedPnl != 100 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}
