package models

import "time"

// Order представляет локальную запись о выставленном на биржу ордере
type Order struct {
	ID             int        `json:"id" db:"id"`
	UserExchangeID int        `json:"user_exchange_id" db:"user_exchange_id"`
	OrderID        *string    `json:"order_id,omitempty" db:"order_id"` // биржевой ID, NULL до подтверждения
	OrderLinkID    string     `json:"order_link_id" db:"order_link_id"` // клиентский idempotency-токен
	Symbol         string     `json:"symbol" db:"symbol"`
	Side           string     `json:"side" db:"side"` // buy, sell
	EntryPrice     float64    `json:"entry_price" db:"entry_price"`
	TakeProfit     float64    `json:"take_profit" db:"take_profit"` // 0 = не задан
	StopLoss       float64    `json:"stop_loss" db:"stop_loss"`     // 0 = не задан
	Quantity       float64    `json:"quantity" db:"quantity"`
	Leverage       int        `json:"leverage" db:"leverage"`
	IsDemo         bool       `json:"is_demo" db:"is_demo"` // партиция по типу аккаунта
	Status         string     `json:"status" db:"status"`
	ClosedByUser   bool       `json:"closed_by_user" db:"closed_by_user"` // закрытие инициировано из приложения
	FilledAt       *time.Time `json:"filled_at,omitempty" db:"filled_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Статусы ордера
//
// Решётка переходов: pending → {filled, canceled, expired}; filled → closed.
// Обратных переходов нет, терминальные статусы: closed, canceled, expired.
const (
	OrderStatusPending  = "pending"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
	OrderStatusExpired  = "expired"
	OrderStatusClosed   = "closed"

	// Legacy-написание, встречается в старых строках БД.
	// Канонический статус - OrderStatusCanceled, новые записи его не используют.
	OrderStatusCancelledLegacy = "cancelled"
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// IsCanceled возвращает true для обоих написаний статуса отмены
func (o *Order) IsCanceled() bool {
	return o.Status == OrderStatusCanceled || o.Status == OrderStatusCancelledLegacy
}

// IsTerminal возвращает true если ордер в терминальном статусе
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusClosed || o.Status == OrderStatusExpired || o.IsCanceled()
}

// OppositeSide возвращает противоположную сторону (для reduce-only TP ордера)
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// CanTransition проверяет допустимость перехода между статусами ордера.
// Статусы двигаются только вперёд, повторная установка текущего статуса разрешена
// (re-entrant проход переустанавливает тот же статус без эффекта).
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case OrderStatusPending:
		return to == OrderStatusFilled || to == OrderStatusCanceled || to == OrderStatusExpired
	case OrderStatusFilled:
		return to == OrderStatusClosed
	default:
		return false
	}
}
