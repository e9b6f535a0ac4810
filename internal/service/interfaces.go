package service

import (
	"time"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

// UserExchangeRepositoryInterface определяет интерфейс репозитория биржевых связок
type UserExchangeRepositoryInterface interface {
	GetByID(id int) (*models.UserExchangeLink, error)
	ListActive() ([]*models.UserExchangeLink, error)
	ListActiveByUser(userID int) ([]*models.UserExchangeLink, error)
	SetDefault(userID, linkID int) error
	Deactivate(id int) error
	RetireCredentials(id int, encAPIKey, encSecretKey, encDemoAPIKey, encDemoSecretKey string) error
}

// OrderRepositoryInterface определяет интерфейс репозитория ордеров
type OrderRepositoryInterface interface {
	Create(order *models.Order) error
	GetByID(id int) (*models.Order, error)
	GetByExchangeOrderID(userExchangeID int, orderID string) (*models.Order, error)
	ListByStatus(userExchangeID int, status string, isDemo bool) ([]*models.Order, error)
	ListStalePending(userExchangeID int, cutoff time.Time) ([]*models.Order, error)
	SetExchangeOrderID(id int, orderID string) error
	MarkFilled(id int, filledAt time.Time) error
	MarkClosed(id int, closedAt time.Time) error
	MarkCanceled(id int, closedAt time.Time) error
	MarkExpired(id int, closedAt time.Time) error
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	Create(trade *models.Trade) error
	GetByOrderID(userExchangeID int, orderID string) (*models.Trade, error)
	ExistsByOrderID(userExchangeID int, orderID string) (bool, error)
	LatestClosedAt(userExchangeID int, isDemo bool) (*time.Time, error)
	ListByUserExchange(userExchangeID int, limit int) ([]*models.Trade, error)
}

// BanRepositoryInterface определяет интерфейс репозитория банов
type BanRepositoryInterface interface {
	Create(ban *models.Ban) error
	ActiveForUser(userID int, at time.Time) ([]*models.Ban, error)
	Lift(id int, at time.Time) error
	LiftExpired(at time.Time) (int64, error)
	ExistsActiveForTrade(tradeID int) (bool, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ UserExchangeRepositoryInterface = (*repository.UserExchangeRepository)(nil)
var _ OrderRepositoryInterface = (*repository.OrderRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ BanRepositoryInterface = (*repository.BanRepository)(nil)
