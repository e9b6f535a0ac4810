package reconcile

import (
	"time"

	"tradedesk/internal/exchange"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/service"
)

// LinkStore определяет срез репозитория связок, нужный движку
type LinkStore interface {
	ListActive() ([]*models.UserExchangeLink, error)
	ListActiveByUser(userID int) ([]*models.UserExchangeLink, error)
}

// OrderStore определяет срез репозитория ордеров, нужный движку
type OrderStore interface {
	GetByExchangeOrderID(userExchangeID int, orderID string) (*models.Order, error)
	ListByStatus(userExchangeID int, status string, isDemo bool) ([]*models.Order, error)
	ListStalePending(userExchangeID int, cutoff time.Time) ([]*models.Order, error)
	MarkFilled(id int, filledAt time.Time) error
	MarkClosed(id int, closedAt time.Time) error
	MarkCanceled(id int, closedAt time.Time) error
	MarkExpired(id int, closedAt time.Time) error
}

// TradeStore определяет срез репозитория сделок, нужный движку
type TradeStore interface {
	Create(trade *models.Trade) error
	ExistsByOrderID(userExchangeID int, orderID string) (bool, error)
	LatestClosedAt(userExchangeID int, isDemo bool) (*time.Time, error)
}

// BanStore определяет срез репозитория банов, нужный движку
type BanStore interface {
	Create(ban *models.Ban) error
	ExistsActiveForTrade(tradeID int) (bool, error)
	LiftExpired(at time.Time) (int64, error)
}

// AdapterFactory собирает биржевой адаптер для связки в заданном режиме
type AdapterFactory interface {
	AdapterFor(link *models.UserExchangeLink, mode service.AccountMode) (exchange.Adapter, error)
}

// Проверяем, что реальные реализации подходят под интерфейсы
var _ LinkStore = (*repository.UserExchangeRepository)(nil)
var _ OrderStore = (*repository.OrderRepository)(nil)
var _ TradeStore = (*repository.TradeRepository)(nil)
var _ BanStore = (*repository.BanRepository)(nil)
var _ AdapterFactory = (*service.CredentialService)(nil)
