package models

import "time"

// UserExchangeLink представляет привязку пользователя к бирже.
// Хранит две независимые пары API ключей: боевую и демо.
// Ключи зашифрованы (AES-256-GCM), в JSON не отдаются.
type UserExchangeLink struct {
	ID            int       `json:"id" db:"id"`
	UserID        int       `json:"user_id" db:"user_id"`
	Exchange      string    `json:"exchange" db:"exchange"`       // bybit, binance, bingx
	APIKey        string    `json:"-" db:"api_key"`               // зашифрован
	SecretKey     string    `json:"-" db:"secret_key"`            // зашифрован
	DemoAPIKey    string    `json:"-" db:"demo_api_key"`          // зашифрован, может быть пуст
	DemoSecretKey string    `json:"-" db:"demo_secret_key"`       // зашифрован
	DemoActive    bool      `json:"demo_active" db:"demo_active"` // какая пара "живая" в режиме auto
	IsActive      bool      `json:"is_active" db:"is_active"`     // активирована админом
	IsDefault     bool      `json:"is_default" db:"is_default"`   // не более одной на пользователя
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// HasRealPair возвращает true если боевая пара ключей заполнена
func (l *UserExchangeLink) HasRealPair() bool {
	return l.APIKey != "" && l.SecretKey != ""
}

// HasDemoPair возвращает true если демо пара ключей заполнена
func (l *UserExchangeLink) HasDemoPair() bool {
	return l.DemoAPIKey != "" && l.DemoSecretKey != ""
}
