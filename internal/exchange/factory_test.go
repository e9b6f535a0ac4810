package exchange

import (
	"errors"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		input    string
		expected Name
		wantErr  bool
	}{
		{"bybit", Bybit, false},
		{"Bybit", Bybit, false},
		{"BINANCE", Binance, false},
		{"bingx", BingX, false},
		{"okx", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, err := ParseName(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				if !errors.Is(err, ErrUnsupported) {
					t.Errorf("expected ErrUnsupported, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, name)
			}
		})
	}
}

func TestNewAdapter(t *testing.T) {
	for _, name := range SupportedExchanges {
		adapter, err := New(name, "key", "secret", false)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if adapter.Name() != name {
			t.Errorf("adapter name mismatch: expected %q, got %q", name, adapter.Name())
		}
		if adapter.IsDemo() {
			t.Errorf("%q: real adapter reports demo", name)
		}
	}

	_, err := New("kraken", "key", "secret", false)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for unknown exchange, got %v", err)
	}
}

func TestNewAdapterDemoHosts(t *testing.T) {
	// демо - это другой base URL, не флаг в запросе
	bybit := NewBybit("k", "s", true)
	if bybit.baseURL != bybitDemoBaseURL {
		t.Errorf("bybit demo baseURL = %q", bybit.baseURL)
	}
	if !bybit.IsDemo() {
		t.Error("bybit demo adapter must report demo")
	}

	binance := NewBinance("k", "s", true)
	if binance.baseURL != binanceDemoBaseURL {
		t.Errorf("binance demo baseURL = %q", binance.baseURL)
	}

	bingx := NewBingX("k", "s", true)
	if bingx.baseURL != bingxDemoBaseURL {
		t.Errorf("bingx demo baseURL = %q", bingx.baseURL)
	}

	if NewBybit("k", "s", false).baseURL != bybitBaseURL {
		t.Error("real bybit adapter must use production host")
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("bybit") || !IsSupported("binance") || !IsSupported("bingx") {
		t.Error("all three exchanges must be supported")
	}
	if IsSupported("htx") {
		t.Error("htx must not be supported")
	}
}
