package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики реконсиляционного движка
// ============================================================

// PassDuration - длительность полного прохода
var PassDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a full reconciliation pass in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
)

// LinksReconciled - обработанные связки по результату
var LinksReconciled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "links_total",
		Help:      "Number of reconciled user exchange links by result",
	},
	[]string{"result"}, // ok, skipped, failed
)

// OrdersAdvanced - ордера, продвинутые по статусной решётке
var OrdersAdvanced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "orders_advanced_total",
		Help:      "Orders advanced through the status lattice by transition",
	},
	[]string{"transition"}, // filled, closed, canceled, expired
)

// TradesInserted - записанные сделки по биржам
var TradesInserted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "trades_inserted_total",
		Help:      "Closed PnL events recorded as trades",
	},
	[]string{"exchange"},
)

// DedupSkips - события PnL, отсеянные дедупликацией
var DedupSkips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "pnl_dedup_skips_total",
		Help:      "Closed PnL events skipped because the trade already exists",
	},
)

// AdapterErrors - ошибки биржевых адаптеров по биржам и классам
var AdapterErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "adapter_errors_total",
		Help:      "Exchange adapter errors by exchange and classified kind",
	},
	[]string{"exchange", "kind"},
)

// BansCreated - созданные баны
var BansCreated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "bans_created_total",
		Help:      "Bans created by the force-close detector",
	},
)

// WalletEquity - снимок баланса кошелька по связкам
var WalletEquity = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradedesk",
		Subsystem: "reconcile",
		Name:      "wallet_equity_usdt",
		Help:      "Last observed wallet equity in USDT",
	},
	[]string{"exchange", "mode"}, // mode: real, demo
)

// recordAdapterError инкрементирует счётчик ошибок по классифицированному типу
func recordAdapterError(err error) {
	exch, kind := classify(err)
	AdapterErrors.WithLabelValues(exch, kind).Inc()
}
