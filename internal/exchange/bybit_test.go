package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestBybit создает адаптер, направленный на тестовый сервер
func newTestBybit(t *testing.T, handler http.HandlerFunc) (*BybitAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := NewBybit("test-key", "test-secret", false)
	adapter.baseURL = server.URL
	adapter.httpClient = server.Client()
	return adapter, server
}

func TestBybitStatusNormalization(t *testing.T) {
	tests := []struct {
		native   string
		expected OrderStatus
	}{
		{"Filled", StatusFilled},
		{"Cancelled", StatusCancelled},
		{"PartiallyFilledCanceled", StatusCancelled},
		{"Deactivated", StatusCancelled},
		{"Rejected", StatusRejected},
		{"New", StatusOpen},
		{"PartiallyFilled", StatusOpen},
		{"Untriggered", StatusOpen},
		{"SomethingNew", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			if got := bybitStatus(tt.native); got != tt.expected {
				t.Errorf("bybitStatus(%q) = %q, want %q", tt.native, got, tt.expected)
			}
		})
	}
}

func TestBybitSigningHeaders(t *testing.T) {
	var gotKey, gotSign, gotTimestamp, gotWindow, gotQuery string

	adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BAPI-API-KEY")
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTimestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		gotWindow = r.Header.Get("X-BAPI-RECV-WINDOW")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	})

	if _, err := adapter.OpenOrderIDs(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotWindow != bybitRecvWindow {
		t.Errorf("recv window header = %q", gotWindow)
	}

	// подпись: HMAC-SHA256(timestamp + apiKey + recvWindow + queryString)
	message := gotTimestamp + "test-key" + bybitRecvWindow + gotQuery
	h := hmac.New(sha256.New, []byte("test-secret"))
	h.Write([]byte(message))
	expected := hex.EncodeToString(h.Sum(nil))

	if gotSign != expected {
		t.Errorf("signature mismatch: got %q, want %q", gotSign, expected)
	}
}

func TestBybitErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		checkKind func(error) bool
		kindName  string
	}{
		{
			name:      "rate limit code",
			body:      `{"retCode":10006,"retMsg":"Too many visits"}`,
			checkKind: IsRateLimit,
			kindName:  "rate limit",
		},
		{
			name:      "permission code",
			body:      `{"retCode":10010,"retMsg":"Unmatched IP"}`,
			checkKind: IsPermission,
			kindName:  "permission",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			_, err := adapter.Positions(context.Background(), "BTCUSDT")
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.checkKind(err) {
				t.Errorf("error not classified as %s: %v", tt.kindName, err)
			}
		})
	}
}

func TestBybitErrorCarriesPayload(t *testing.T) {
	adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110001,"retMsg":"order not exists"}`))
	})

	err := adapter.CancelOrder(context.Background(), "42", "BTCUSDT")
	if err == nil {
		t.Fatal("expected error")
	}

	exchErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if exchErr.Code != "110001" {
		t.Errorf("code = %q", exchErr.Code)
	}
	if exchErr.Endpoint != "/v5/order/cancel" {
		t.Errorf("endpoint = %q", exchErr.Endpoint)
	}
	if exchErr.Payload == "" {
		t.Error("outbound payload must be preserved for diagnostics")
	}
}

func TestBybitOrderHistory(t *testing.T) {
	adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/order/history" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"O1","orderLinkId":"link-1","symbol":"ETHUSDT","side":"Buy","orderStatus":"Filled","price":"3000","avgPrice":"3050","qty":"0.5","updatedTime":"1700000000000"}
		]}}`))
	})

	entries, err := adapter.OrderHistory(context.Background(), HistoryQuery{Symbol: "ETHUSDT", OrderID: "O1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.OrderID != "O1" || e.Status != StatusFilled || e.AvgPrice != 3050 || e.Side != SideBuy {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.UpdatedAtMs != 1700000000000 {
		t.Errorf("updatedAt = %d", e.UpdatedAtMs)
	}
}

func TestBybitClosedPnl(t *testing.T) {
	adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("startTime"); got != "1700000001000" {
			t.Errorf("startTime = %q", got)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"O2","symbol":"BTCUSDT","side":"Sell","avgEntryPrice":"50000","avgExitPrice":"51000","qty":"0.1","leverage":"10","closedPnl":"100","updatedTime":"1700000002000"},
			{"orderId":"O1","symbol":"BTCUSDT","side":"Sell","avgEntryPrice":"49000","avgExitPrice":"50000","qty":"0.1","leverage":"10","closedPnl":"100","updatedTime":"1700000001500"}
		]}}`))
	})

	events, err := adapter.ClosedPnl(context.Background(), "BTCUSDT", 50, 1700000001000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// контракт: от новых к старым
	if events[0].OrderID != "O2" || events[1].OrderID != "O1" {
		t.Errorf("events must come newest first: %+v", events)
	}
	if events[0].ClosedPnl != 100 || events[0].Leverage != 10 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestBybitClosedPnlAllSymbols(t *testing.T) {
	// symbol у closed-pnl опционален: пустой не должен попадать в запрос
	adapter, _ := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["symbol"]; present {
			t.Errorf("empty symbol must be omitted, query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"O3","symbol":"ETHUSDT","side":"Sell","avgEntryPrice":"3000","avgExitPrice":"3100","qty":"0.5","leverage":"5","closedPnl":"50","updatedTime":"1700000003000"}
		]}}`))
	})

	events, err := adapter.ClosedPnl(context.Background(), "", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].OrderID != "O3" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestBybitPositionIdx(t *testing.T) {
	adapter := NewBybit("k", "s", false)
	if got := adapter.PositionIdx(Position{PositionIdx: 2}); got != PositionIdxShort {
		t.Errorf("PositionIdx = %d", got)
	}
	if got := adapter.PositionIdx(Position{PositionIdx: 0}); got != PositionIdxOneWay {
		t.Errorf("PositionIdx = %d", got)
	}
}
