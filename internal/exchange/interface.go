// Package exchange предоставляет унифицированный интерфейс для работы с биржами.
package exchange

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

// json - быстрый drop-in на замену encoding/json для разбора биржевых ответов
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Adapter определяет унифицированный контракт торгового API биржи.
// Один экземпляр привязан к одной паре ключей (боевой или демо) -
// привязка к хосту demo/real происходит при конструировании, не per-call.
type Adapter interface {
	// Name возвращает имя биржи
	Name() Name

	// IsDemo возвращает true если адаптер привязан к демо-аккаунту
	IsDemo() bool

	// CreateOrder размещает лимитный или рыночный ордер.
	// Идемпотентность через spec.OrderLinkID там, где биржа это поддерживает.
	// Возвращает биржевой order id.
	CreateOrder(ctx context.Context, spec OrderSpec) (string, error)

	// CancelOrder отменяет ордер. Символ обязателен: Binance не умеет
	// искать ордер только по ID.
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// OpenOrderIDs возвращает ID открытых ордеров по символу
	OpenOrderIDs(ctx context.Context, symbol string) ([]string, error)

	// OrderHistory возвращает историю ордеров.
	// Статусы уже нормализованы к закрытому множеству OrderStatus -
	// биржевые словари не покидают адаптер.
	OrderHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error)

	// Positions возвращает открытые позиции; symbol="" - все символы
	Positions(ctx context.Context, symbol string) ([]Position, error)

	// ClosedPnl возвращает события реализованного PnL по закрытым позициям,
	// от новых к старым. startTimeMs=0 - без нижней границы.
	ClosedPnl(ctx context.Context, symbol string, limit int, startTimeMs int64) ([]ClosedPnlEvent, error)

	// WalletBalance возвращает баланс фьючерсного аккаунта
	WalletBalance(ctx context.Context, coin string) (*Balance, error)

	// SwitchPositionMode переключает режим позиций (hedge/one-way)
	SwitchPositionMode(ctx context.Context, hedge bool) error

	// PositionIdx возвращает нормализованный слот hedge-режима для позиции:
	// 0 - one-way, 1 - long, 2 - short. Биржевые обозначения
	// ("LONG"/"SHORT" против числового positionIdx) скрыты за этим методом.
	PositionIdx(p Position) int
}

// OrderSpec описывает размещаемый ордер
type OrderSpec struct {
	Symbol      string
	Side        string // buy, sell
	Qty         float64
	Price       float64 // 0 = рыночный ордер
	OrderLinkID string  // клиентский idempotency-токен
	ReduceOnly  bool
	TakeProfit  float64 // 0 = не задан
	StopLoss    float64 // 0 = не задан
	Hedge       bool    // аккаунт в hedge-режиме: требуется positionSide/positionIdx
}

// HistoryQuery - параметры выборки истории ордеров.
// OrderID опционален; Symbol обязателен для Binance (см. пометку в адаптере).
type HistoryQuery struct {
	Symbol      string
	OrderID     string
	Limit       int
	StartTimeMs int64
}

// HistoryEntry - нормализованная запись истории ордеров
type HistoryEntry struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        string // buy, sell
	Status      OrderStatus
	Price       float64
	AvgPrice    float64
	Qty         float64
	UpdatedAtMs int64
}

// Position - открытая позиция в том виде, как её сообщает биржа.
// Эфемерная: никогда не сохраняется как есть, используется только
// для решения "жива ли ещё позиция по этому ордеру".
type Position struct {
	Symbol       string
	Side         string // long, short
	Size         float64
	EntryPrice   float64
	Leverage     int
	PositionIdx  int    // Bybit: 0/1/2
	PositionSide string // Binance/BingX: LONG/SHORT/BOTH
}

// ClosedPnlEvent - событие реализованного PnL закрытой позиции
type ClosedPnlEvent struct {
	OrderID       string
	Symbol        string
	Side          string // buy, sell - сторона закрывающего ордера
	AvgEntryPrice float64
	AvgExitPrice  float64
	Qty           float64
	Leverage      int
	ClosedPnl     float64
	UpdatedTimeMs int64
}

// Balance - баланс фьючерсного аккаунта
type Balance struct {
	Coin          string
	Equity        float64
	WalletBalance float64
	Available     float64
}

// OrderStatus - канонический статус ордера на бирже.
// Единственное место маппинга биржевых строк в это множество - адаптеры.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
	StatusUnknown   OrderStatus = "unknown"
)

// Стороны ордера (используются при размещении ордеров)
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Стороны позиции (используются для описания направления позиции)
const (
	SideLong  = "long"
	SideShort = "short"
)

// Слоты hedge-режима (нормализованные, нумерация Bybit)
const (
	PositionIdxOneWay = 0
	PositionIdxLong   = 1
	PositionIdxShort  = 2
)

// Terminal возвращает true если статус терминальный (ордер не исполнится)
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}
