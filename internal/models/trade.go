package models

import "time"

// Trade представляет неизменяемую запись о реализованной сделке.
// Ровно одна запись на биржевой order id в рамках user-exchange связки -
// дедупликация при синхронизации PnL обязана это гарантировать.
type Trade struct {
	ID             int       `json:"id" db:"id"`
	UserExchangeID int       `json:"user_exchange_id" db:"user_exchange_id"`
	OrderID        string    `json:"order_id" db:"order_id"` // биржевой ID закрывшегося ордера
	Symbol         string    `json:"symbol" db:"symbol"`
	Side           string    `json:"side" db:"side"`
	EntryPrice     float64   `json:"entry_price" db:"entry_price"`
	ExitPrice      float64   `json:"exit_price" db:"exit_price"`
	Quantity       float64   `json:"quantity" db:"quantity"`
	Leverage       int       `json:"leverage" db:"leverage"`
	Pnl            float64   `json:"pnl" db:"pnl"`
	IsDemo         bool      `json:"is_demo" db:"is_demo"`
	Synchronized   int       `json:"synchronized" db:"synchronized"`
	ClosedByUser   bool      `json:"closed_by_user" db:"closed_by_user"`
	ClosedAt       time.Time `json:"closed_at" db:"closed_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Состояния синхронизации сделки с биржей
const (
	TradeSyncNone      = 0 // не сверена
	TradeSyncVerified  = 1 // подтверждена данными биржи (closed-pnl событие)
	TradeSyncEstimated = 2 // оценка по локальным данным, биржа не подтвердила
)
