package service

import (
	"errors"
	"fmt"

	"tradedesk/internal/exchange"
	"tradedesk/internal/models"
	"tradedesk/pkg/crypto"
)

// Ошибки сервиса
var (
	ErrLinkInactive       = errors.New("user exchange link is inactive")
	ErrCredentialsMissing = errors.New("no API credentials for requested account mode")
	ErrUnknownAccountMode = errors.New("unknown account mode")
)

// AccountMode - какую пару ключей связки использовать
type AccountMode string

const (
	// ModeReal - боевые ключи
	ModeReal AccountMode = "real"
	// ModeDemo - демо-ключи
	ModeDemo AccountMode = "demo"
	// ModeAuto - режим выбирает сама связка (флаг demo_active)
	ModeAuto AccountMode = "auto"
)

// Credentials - расшифрованная пара ключей и фактический режим аккаунта
type Credentials struct {
	APIKey    string
	SecretKey string
	IsDemo    bool
}

// CredentialService расшифровывает ключи связок и собирает биржевые адаптеры.
// Ключи в БД лежат только в зашифрованном виде; расшифрованные значения
// живут ровно столько, сколько живёт собранный адаптер, и не кэшируются
// между проходами. Плэйнтекст ключей никогда не логируется.
type CredentialService struct {
	encryptionKey []byte
}

// NewCredentialService создает новый экземпляр сервиса
func NewCredentialService(encryptionKey []byte) *CredentialService {
	return &CredentialService{encryptionKey: encryptionKey}
}

// Resolve выбирает и расшифровывает пару ключей связки под заданный режим.
// Выполняет:
// 1. Проверку активности связки
// 2. Выбор режима: auto разворачивается по флагу demo_active
// 3. Проверку наличия пары ключей для выбранного режима
// 4. Расшифровку
func (s *CredentialService) Resolve(link *models.UserExchangeLink, mode AccountMode) (*Credentials, error) {
	if !link.IsActive {
		return nil, ErrLinkInactive
	}

	var demo bool
	switch mode {
	case ModeReal:
		demo = false
	case ModeDemo:
		demo = true
	case ModeAuto:
		demo = link.DemoActive
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccountMode, mode)
	}

	encAPIKey, encSecretKey := link.APIKey, link.SecretKey
	if demo {
		encAPIKey, encSecretKey = link.DemoAPIKey, link.DemoSecretKey
	}
	if encAPIKey == "" || encSecretKey == "" {
		return nil, fmt.Errorf("%w: link %d, demo=%v", ErrCredentialsMissing, link.ID, demo)
	}

	apiKey, err := crypto.Decrypt(encAPIKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for link %d: %w", link.ID, err)
	}
	secretKey, err := crypto.Decrypt(encSecretKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret key for link %d: %w", link.ID, err)
	}

	return &Credentials{APIKey: apiKey, SecretKey: secretKey, IsDemo: demo}, nil
}

// AdapterFor собирает биржевой адаптер для связки в заданном режиме.
// Каждый вызов собирает свежий экземпляр - адаптеры дешёвые (общий
// HTTP-клиент берётся из пула), а ротация ключей подхватывается
// следующим же проходом без инвалидации.
func (s *CredentialService) AdapterFor(link *models.UserExchangeLink, mode AccountMode) (exchange.Adapter, error) {
	creds, err := s.Resolve(link, mode)
	if err != nil {
		return nil, err
	}

	name, err := exchange.ParseName(link.Exchange)
	if err != nil {
		return nil, err
	}

	return exchange.New(name, creds.APIKey, creds.SecretKey, creds.IsDemo)
}
