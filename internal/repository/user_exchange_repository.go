package repository

import (
	"database/sql"
	"errors"
	"time"

	"tradedesk/internal/models"
)

// Ошибки репозитория биржевых связок
var (
	ErrLinkNotFound = errors.New("user exchange link not found")
)

// UserExchangeRepository - работа с таблицей user_exchanges
type UserExchangeRepository struct {
	db *sql.DB
}

// NewUserExchangeRepository создает новый экземпляр репозитория
func NewUserExchangeRepository(db *sql.DB) *UserExchangeRepository {
	return &UserExchangeRepository{db: db}
}

const linkColumns = `id, user_id, exchange, api_key, secret_key, demo_api_key, demo_secret_key, demo_active, is_active, is_default, updated_at, created_at`

func scanLink(row interface{ Scan(...interface{}) error }) (*models.UserExchangeLink, error) {
	link := &models.UserExchangeLink{}
	err := row.Scan(
		&link.ID,
		&link.UserID,
		&link.Exchange,
		&link.APIKey,
		&link.SecretKey,
		&link.DemoAPIKey,
		&link.DemoSecretKey,
		&link.DemoActive,
		&link.IsActive,
		&link.IsDefault,
		&link.UpdatedAt,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// GetByID возвращает связку по ID
func (r *UserExchangeRepository) GetByID(id int) (*models.UserExchangeLink, error) {
	query := `SELECT ` + linkColumns + ` FROM user_exchanges WHERE id = $1`

	link, err := scanLink(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return link, err
}

// ListActive возвращает все активированные связки - вход реконсиляционного прохода
func (r *UserExchangeRepository) ListActive() ([]*models.UserExchangeLink, error) {
	query := `SELECT ` + linkColumns + ` FROM user_exchanges WHERE is_active = TRUE ORDER BY user_id, id`
	return r.list(query)
}

// ListActiveByUser возвращает активированные связки одного пользователя
func (r *UserExchangeRepository) ListActiveByUser(userID int) ([]*models.UserExchangeLink, error) {
	query := `SELECT ` + linkColumns + ` FROM user_exchanges WHERE user_id = $1 AND is_active = TRUE ORDER BY id`
	return r.list(query, userID)
}

func (r *UserExchangeRepository) list(query string, args ...interface{}) ([]*models.UserExchangeLink, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]*models.UserExchangeLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// SetDefault делает связку дефолтной для пользователя.
// Инвариант: не более одной is_default=true связки на пользователя -
// сброс и установка выполняются в одной транзакции.
func (r *UserExchangeRepository) SetDefault(userID, linkID int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE user_exchanges SET is_default = FALSE WHERE user_id = $1`, userID); err != nil {
		return err
	}

	result, err := tx.Exec(
		`UPDATE user_exchanges SET is_default = TRUE, updated_at = $1 WHERE id = $2 AND user_id = $3 AND is_active = TRUE`,
		time.Now(), linkID, userID,
	)
	if err != nil {
		return err
	}
	if err := checkAffected(result, ErrLinkNotFound); err != nil {
		return err
	}

	return tx.Commit()
}

// Deactivate выключает связку. Если она была дефолтной, дефолт
// передаётся другой активной связке пользователя (самой старой).
func (r *UserExchangeRepository) Deactivate(id int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	link, err := scanLink(tx.QueryRow(`SELECT `+linkColumns+` FROM user_exchanges WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLinkNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE user_exchanges SET is_active = FALSE, is_default = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	); err != nil {
		return err
	}

	if link.IsDefault {
		if _, err := tx.Exec(`
			UPDATE user_exchanges SET is_default = TRUE
			WHERE id = (
				SELECT id FROM user_exchanges
				WHERE user_id = $1 AND is_active = TRUE AND id != $2
				ORDER BY created_at
				LIMIT 1
			)`, link.UserID, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RetireCredentials мягко выводит связку из оборота при ротации ключей:
// новые зашифрованные пары сохраняются, связка уходит на повторное одобрение
func (r *UserExchangeRepository) RetireCredentials(id int, encAPIKey, encSecretKey, encDemoAPIKey, encDemoSecretKey string) error {
	result, err := r.db.Exec(`
		UPDATE user_exchanges
		SET api_key = $1, secret_key = $2, demo_api_key = $3, demo_secret_key = $4,
		    is_active = FALSE, is_default = FALSE, updated_at = $5
		WHERE id = $6`,
		encAPIKey, encSecretKey, encDemoAPIKey, encDemoSecretKey, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return checkAffected(result, ErrLinkNotFound)
}
