package repository

import (
	"database/sql"
	"errors"
	"time"

	"tradedesk/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStaleTransition - строка не в ожидаемом статусе.
	// Статусы двигаются только вперёд; update с guard'ом по текущему статусу
	// не нашёл строку - значит её уже продвинул параллельный проход.
	ErrStaleTransition = errors.New("order status transition rejected: unexpected current status")
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_exchange_id, order_id, order_link_id, symbol, side, entry_price, take_profit, stop_loss, quantity, leverage, is_demo, status, closed_by_user, filled_at, closed_at, created_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserExchangeID,
		&order.OrderID,
		&order.OrderLinkID,
		&order.Symbol,
		&order.Side,
		&order.EntryPrice,
		&order.TakeProfit,
		&order.StopLoss,
		&order.Quantity,
		&order.Leverage,
		&order.IsDemo,
		&order.Status,
		&order.ClosedByUser,
		&order.FilledAt,
		&order.ClosedAt,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Create создает запись об ордере
func (r *OrderRepository) Create(order *models.Order) error {
	query := `
		INSERT INTO orders (user_exchange_id, order_id, order_link_id, symbol, side, entry_price, take_profit, stop_loss, quantity, leverage, is_demo, status, closed_by_user, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	order.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		order.UserExchangeID,
		order.OrderID,
		order.OrderLinkID,
		order.Symbol,
		order.Side,
		order.EntryPrice,
		order.TakeProfit,
		order.StopLoss,
		order.Quantity,
		order.Leverage,
		order.IsDemo,
		order.Status,
		order.ClosedByUser,
		order.CreatedAt,
	).Scan(&order.ID)
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(id int) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

// GetByExchangeOrderID возвращает ордер по биржевому ID в рамках связки
func (r *OrderRepository) GetByExchangeOrderID(userExchangeID int, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_exchange_id = $1 AND order_id = $2`

	order, err := scanOrder(r.db.QueryRow(query, userExchangeID, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

// ListByStatus возвращает ордера связки в заданном статусе и режиме аккаунта.
// Демо и боевые ордера выбираются раздельно: реконсиляция не смешивает режимы.
func (r *OrderRepository) ListByStatus(userExchangeID int, status string, isDemo bool) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_exchange_id = $1 AND status = $2 AND is_demo = $3
		ORDER BY created_at`

	rows, err := r.db.Query(query, userExchangeID, status, isDemo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ListStalePending возвращает pending ордера без биржевого ID старше cutoff.
// Такие ордера биржа не подтвердила и уже не подтвердит - кандидаты на expire.
func (r *OrderRepository) ListStalePending(userExchangeID int, cutoff time.Time) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_exchange_id = $1 AND status = $2 AND order_id IS NULL AND created_at < $3
		ORDER BY created_at`

	rows, err := r.db.Query(query, userExchangeID, models.OrderStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// SetExchangeOrderID проставляет биржевой ID после подтверждения размещения
func (r *OrderRepository) SetExchangeOrderID(id int, orderID string) error {
	result, err := r.db.Exec(`UPDATE orders SET order_id = $1 WHERE id = $2`, orderID, id)
	if err != nil {
		return err
	}
	return checkAffected(result, ErrOrderNotFound)
}

// MarkFilled переводит pending ордер в filled.
// Guard по текущему статусу защищает от отката при конкурентных проходах.
func (r *OrderRepository) MarkFilled(id int, filledAt time.Time) error {
	return r.transition(id, models.OrderStatusPending, models.OrderStatusFilled,
		`UPDATE orders SET status = $1, filled_at = $2 WHERE id = $3 AND status = $4`, filledAt)
}

// MarkClosed переводит filled ордер в closed
func (r *OrderRepository) MarkClosed(id int, closedAt time.Time) error {
	return r.transition(id, models.OrderStatusFilled, models.OrderStatusClosed,
		`UPDATE orders SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`, closedAt)
}

// MarkCanceled переводит pending ордер в canceled
func (r *OrderRepository) MarkCanceled(id int, closedAt time.Time) error {
	return r.transition(id, models.OrderStatusPending, models.OrderStatusCanceled,
		`UPDATE orders SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`, closedAt)
}

// MarkExpired переводит pending ордер в expired
func (r *OrderRepository) MarkExpired(id int, closedAt time.Time) error {
	return r.transition(id, models.OrderStatusPending, models.OrderStatusExpired,
		`UPDATE orders SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`, closedAt)
}

func (r *OrderRepository) transition(id int, from, to, query string, stamp time.Time) error {
	result, err := r.db.Exec(query, to, stamp, id, from)
	if err != nil {
		return err
	}
	return checkAffected(result, ErrStaleTransition)
}

func checkAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
