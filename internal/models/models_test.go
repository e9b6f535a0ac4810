package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"pending to filled", OrderStatusPending, OrderStatusFilled, true},
		{"pending to canceled", OrderStatusPending, OrderStatusCanceled, true},
		{"pending to expired", OrderStatusPending, OrderStatusExpired, true},
		{"pending to closed", OrderStatusPending, OrderStatusClosed, false},
		{"filled to closed", OrderStatusFilled, OrderStatusClosed, true},
		{"filled to pending", OrderStatusFilled, OrderStatusPending, false},
		{"filled to canceled", OrderStatusFilled, OrderStatusCanceled, false},
		{"closed to filled", OrderStatusClosed, OrderStatusFilled, false},
		{"closed to pending", OrderStatusClosed, OrderStatusPending, false},
		{"canceled to filled", OrderStatusCanceled, OrderStatusFilled, false},
		{"expired to pending", OrderStatusExpired, OrderStatusPending, false},
		{"same status is re-entrant", OrderStatusFilled, OrderStatusFilled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestOrderIsCanceled(t *testing.T) {
	o := &Order{Status: OrderStatusCanceled}
	if !o.IsCanceled() {
		t.Error("canceled order not detected")
	}

	// legacy-написание из старых строк БД
	o.Status = OrderStatusCancelledLegacy
	if !o.IsCanceled() {
		t.Error("legacy cancelled order not detected")
	}

	o.Status = OrderStatusFilled
	if o.IsCanceled() {
		t.Error("filled order reported as canceled")
	}
}

func TestOrderIsTerminal(t *testing.T) {
	for _, status := range []string{OrderStatusClosed, OrderStatusCanceled, OrderStatusCancelledLegacy, OrderStatusExpired} {
		o := &Order{Status: status}
		if !o.IsTerminal() {
			t.Errorf("status %q must be terminal", status)
		}
	}
	for _, status := range []string{OrderStatusPending, OrderStatusFilled} {
		o := &Order{Status: status}
		if o.IsTerminal() {
			t.Errorf("status %q must not be terminal", status)
		}
	}
}

func TestOppositeSide(t *testing.T) {
	if OppositeSide(SideBuy) != SideSell {
		t.Error("opposite of buy must be sell")
	}
	if OppositeSide(SideSell) != SideBuy {
		t.Error("opposite of sell must be buy")
	}
}

func TestBanIsActiveAt(t *testing.T) {
	now := time.Now()
	ban := &Ban{
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	}

	if !ban.IsActiveAt(now) {
		t.Error("ban must be active inside validity window")
	}
	if ban.IsActiveAt(now.Add(2 * time.Hour)) {
		t.Error("ban must expire after EndsAt")
	}
	if ban.IsActiveAt(now.Add(-2 * time.Hour)) {
		t.Error("ban must not be active before StartsAt")
	}

	lifted := now.Add(-30 * time.Minute)
	ban.LiftedAt = &lifted
	if ban.IsActiveAt(now) {
		t.Error("lifted ban must not be active")
	}
}

func TestLinkCredentialPairs(t *testing.T) {
	link := &UserExchangeLink{APIKey: "k", SecretKey: "s"}
	if !link.HasRealPair() {
		t.Error("real pair must be detected")
	}
	if link.HasDemoPair() {
		t.Error("empty demo pair reported as present")
	}

	link.DemoAPIKey = "dk"
	if link.HasDemoPair() {
		t.Error("demo pair with missing secret reported as present")
	}
	link.DemoSecretKey = "ds"
	if !link.HasDemoPair() {
		t.Error("demo pair must be detected")
	}
}
