package models

import "time"

// Ban представляет штрафную запись пользователя.
// Создаётся только детектором принудительных закрытий, реконсилятор её не меняет.
// Мягкий штраф: блокирует создание новых ордеров пока активен, истекает по EndsAt,
// опционально снимается раньше при пересечении ценой заданной границы.
type Ban struct {
	ID         int        `json:"id" db:"id"`
	UserID     int        `json:"user_id" db:"user_id"`
	TradeID    *int       `json:"trade_id,omitempty" db:"trade_id"` // сделка-триггер, если известна
	Type       string     `json:"type" db:"type"`
	StartsAt   time.Time  `json:"starts_at" db:"starts_at"`
	EndsAt     time.Time  `json:"ends_at" db:"ends_at"`
	PriceBelow *float64   `json:"price_below,omitempty" db:"price_below"` // авто-снятие: цена ниже
	PriceAbove *float64   `json:"price_above,omitempty" db:"price_above"` // авто-снятие: цена выше
	LiftedAt   *time.Time `json:"lifted_at,omitempty" db:"lifted_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Типы банов
const (
	BanTypeExchangeForceClose = "exchange_force_close"
)

// IsActiveAt возвращает true если бан действует в момент t
func (b *Ban) IsActiveAt(t time.Time) bool {
	if b.LiftedAt != nil {
		return false
	}
	return !t.Before(b.StartsAt) && t.Before(b.EndsAt)
}
