package repository

import (
	"database/sql"
	"errors"
	"time"

	"tradedesk/internal/models"
)

// Ошибки репозитория банов
var (
	ErrBanNotFound = errors.New("ban not found")
)

// BanRepository - работа с таблицей bans
type BanRepository struct {
	db *sql.DB
}

// NewBanRepository создает новый экземпляр репозитория
func NewBanRepository(db *sql.DB) *BanRepository {
	return &BanRepository{db: db}
}

const banColumns = `id, user_id, trade_id, type, starts_at, ends_at, price_below, price_above, lifted_at, created_at`

func scanBan(row interface{ Scan(...interface{}) error }) (*models.Ban, error) {
	ban := &models.Ban{}
	err := row.Scan(
		&ban.ID,
		&ban.UserID,
		&ban.TradeID,
		&ban.Type,
		&ban.StartsAt,
		&ban.EndsAt,
		&ban.PriceBelow,
		&ban.PriceAbove,
		&ban.LiftedAt,
		&ban.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ban, nil
}

// Create создает запись о бане
func (r *BanRepository) Create(ban *models.Ban) error {
	query := `
		INSERT INTO bans (user_id, trade_id, type, starts_at, ends_at, price_below, price_above, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	ban.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		ban.UserID,
		ban.TradeID,
		ban.Type,
		ban.StartsAt,
		ban.EndsAt,
		ban.PriceBelow,
		ban.PriceAbove,
		ban.CreatedAt,
	).Scan(&ban.ID)
}

// ActiveForUser возвращает действующие баны пользователя на момент at
func (r *BanRepository) ActiveForUser(userID int, at time.Time) ([]*models.Ban, error) {
	query := `
		SELECT ` + banColumns + `
		FROM bans
		WHERE user_id = $1 AND lifted_at IS NULL AND starts_at <= $2 AND ends_at > $2
		ORDER BY ends_at DESC`

	rows, err := r.db.Query(query, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := make([]*models.Ban, 0)
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}

// Lift снимает бан досрочно (цена пересекла заданную границу)
func (r *BanRepository) Lift(id int, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE bans SET lifted_at = $1 WHERE id = $2 AND lifted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(result, ErrBanNotFound)
}

// LiftExpired закрывает отлежавшие баны. Возвращает количество снятых.
func (r *BanRepository) LiftExpired(at time.Time) (int64, error) {
	result, err := r.db.Exec(
		`UPDATE bans SET lifted_at = $1 WHERE lifted_at IS NULL AND ends_at <= $1`,
		at,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExistsActiveForTrade проверяет, есть ли уже бан по этой сделке.
// Повторный проход по той же сделке не должен плодить баны.
func (r *BanRepository) ExistsActiveForTrade(tradeID int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM bans WHERE trade_id = $1)`,
		tradeID,
	).Scan(&exists)
	return exists, err
}
