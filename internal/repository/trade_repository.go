package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"tradedesk/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")

	// ErrDuplicateTrade - попытка вставить вторую сделку для того же биржевого
	// order id. Дедупликация обязана отсеять такие события до вставки;
	// эта ошибка означает нарушение инварианта и логируется как error.
	ErrDuplicateTrade = errors.New("trade already recorded for this exchange order id")
)

// TradeRepository - работа с таблицей trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, user_exchange_id, order_id, symbol, side, entry_price, exit_price, quantity, leverage, pnl, is_demo, synchronized, closed_by_user, closed_at, created_at`

func scanTrade(row interface{ Scan(...interface{}) error }) (*models.Trade, error) {
	trade := &models.Trade{}
	err := row.Scan(
		&trade.ID,
		&trade.UserExchangeID,
		&trade.OrderID,
		&trade.Symbol,
		&trade.Side,
		&trade.EntryPrice,
		&trade.ExitPrice,
		&trade.Quantity,
		&trade.Leverage,
		&trade.Pnl,
		&trade.IsDemo,
		&trade.Synchronized,
		&trade.ClosedByUser,
		&trade.ClosedAt,
		&trade.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// Create создает запись о сделке.
// Уникальный индекс (user_exchange_id, order_id) - последний рубеж
// против двойной вставки; нарушение конвертируется в ErrDuplicateTrade.
func (r *TradeRepository) Create(trade *models.Trade) error {
	query := `
		INSERT INTO trades (user_exchange_id, order_id, symbol, side, entry_price, exit_price, quantity, leverage, pnl, is_demo, synchronized, closed_by_user, closed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	trade.CreatedAt = time.Now()

	err := r.db.QueryRow(
		query,
		trade.UserExchangeID,
		trade.OrderID,
		trade.Symbol,
		trade.Side,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Quantity,
		trade.Leverage,
		trade.Pnl,
		trade.IsDemo,
		trade.Synchronized,
		trade.ClosedByUser,
		trade.ClosedAt,
		trade.CreatedAt,
	).Scan(&trade.ID)

	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateTrade
	}
	return err
}

// GetByOrderID возвращает сделку по биржевому order id в рамках связки
func (r *TradeRepository) GetByOrderID(userExchangeID int, orderID string) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_exchange_id = $1 AND order_id = $2`

	trade, err := scanTrade(r.db.QueryRow(query, userExchangeID, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return trade, err
}

// ExistsByOrderID проверяет, записана ли уже сделка для биржевого order id
func (r *TradeRepository) ExistsByOrderID(userExchangeID int, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM trades WHERE user_exchange_id = $1 AND order_id = $2)`,
		userExchangeID, orderID,
	).Scan(&exists)
	return exists, err
}

// LatestClosedAt возвращает момент последней записанной сделки связки
// в заданном режиме аккаунта. nil - сделок ещё нет.
func (r *TradeRepository) LatestClosedAt(userExchangeID int, isDemo bool) (*time.Time, error) {
	var closedAt sql.NullTime
	err := r.db.QueryRow(
		`SELECT MAX(closed_at) FROM trades WHERE user_exchange_id = $1 AND is_demo = $2`,
		userExchangeID, isDemo,
	).Scan(&closedAt)
	if err != nil {
		return nil, err
	}
	if !closedAt.Valid {
		return nil, nil
	}
	t := closedAt.Time
	return &t, nil
}

// ListByUserExchange возвращает последние сделки связки
func (r *TradeRepository) ListByUserExchange(userExchangeID int, limit int) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_exchange_id = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, userExchangeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]*models.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// isUniqueViolation распознаёт нарушение уникального индекса Postgres (код 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
