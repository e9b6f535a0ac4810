package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Database  DatabaseConfig
	Security  SecurityConfig
	Reconcile ReconcileConfig
	Ops       OpsConfig
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionPassphrase - мастер-фраза, из которой выводится
	// AES-256 ключ для шифрования биржевых API ключей
	EncryptionPassphrase string
}

// ReconcileConfig - настройки реконсиляционного движка
type ReconcileConfig struct {
	// PnlFetchLimit - сколько closed PnL событий запрашивать за проход
	PnlFetchLimit int

	// StalePendingMaxAge - возраст, после которого pending ордер без
	// биржевого ID переводится в expired
	StalePendingMaxAge time.Duration

	// Workers - размер пула воркеров по связкам
	Workers int

	// BanThreshold - порог детектора форс-закрытий (доля, 0.002 = 0.2%)
	BanThreshold float64

	// BanDuration - длительность бана exchange_force_close
	BanDuration time.Duration

	// Retry для сетевых вызовов адаптеров
	MaxRetries   int
	RetryBackoff time.Duration
}

// OpsConfig - настройки служебного HTTP сервера (метрики, health)
type OpsConfig struct {
	Host string
	Port int
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradedesk"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
		},
		Reconcile: ReconcileConfig{
			PnlFetchLimit:      getEnvAsInt("PNL_FETCH_LIMIT", 100),
			StalePendingMaxAge: getEnvAsDuration("STALE_PENDING_MAX_AGE", 30*time.Minute),
			Workers:            getEnvAsInt("RECONCILE_WORKERS", 4),
			BanThreshold:       getEnvAsFloat("BAN_THRESHOLD", 0.002),
			BanDuration:        getEnvAsDuration("BAN_DURATION", 24*time.Hour),
			MaxRetries:         getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoff:       getEnvAsDuration("RETRY_BACKOFF", 200*time.Millisecond),
		},
		Ops: OpsConfig{
			Host: getEnv("OPS_HOST", "0.0.0.0"),
			Port: getEnvAsInt("OPS_PORT", 9090),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_PASSPHRASE обязательна: без неё не расшифровать ключи бирж
	if c.Security.EncryptionPassphrase == "" {
		return fmt.Errorf("ENCRYPTION_PASSPHRASE is required for decrypting API keys")
	}

	if len(c.Security.EncryptionPassphrase) < 16 {
		return fmt.Errorf("ENCRYPTION_PASSPHRASE must be at least 16 characters, got %d", len(c.Security.EncryptionPassphrase))
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Ops.Port < 1 || c.Ops.Port > 65535 {
		return fmt.Errorf("OPS_PORT must be between 1 and 65535, got %d", c.Ops.Port)
	}

	if c.Reconcile.PnlFetchLimit < 1 {
		return fmt.Errorf("PNL_FETCH_LIMIT must be positive, got %d", c.Reconcile.PnlFetchLimit)
	}

	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be positive, got %d", c.Reconcile.Workers)
	}

	if c.Reconcile.BanThreshold <= 0 || c.Reconcile.BanThreshold >= 1 {
		return fmt.Errorf("BAN_THRESHOLD must be a fraction in (0, 1), got %v", c.Reconcile.BanThreshold)
	}

	if c.Reconcile.BanDuration <= 0 {
		return fmt.Errorf("BAN_DURATION must be positive, got %v", c.Reconcile.BanDuration)
	}

	if c.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Reconcile.MaxRetries)
	}

	if c.Reconcile.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Reconcile.MaxRetries)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
