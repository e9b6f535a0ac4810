package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки биржи для принятия решения о retry
type ErrorKind int

const (
	// KindUnknown - неопознанная ошибка биржи; логируется, retry на следующем тике
	KindUnknown ErrorKind = iota

	// KindTransport - сетевая ошибка или таймаут; retry на следующем тике
	KindTransport

	// KindRateLimit - превышение лимита запросов; пропустить и повторить на следующем тике
	KindRateLimit

	// KindPermission - ошибка прав доступа или IP whitelist; не ретраится автоматически
	KindPermission

	// KindBusiness - бизнес-ошибка биржи (неверный символ, недостаточно средств и т.п.)
	KindBusiness
)

// String возвращает имя класса ошибки для логов и метрик
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimit:
		return "rate_limit"
	case KindPermission:
		return "permission"
	case KindBusiness:
		return "business"
	default:
		return "unknown"
	}
}

// Error представляет ошибку вызова биржевого API.
// Несёт биржевой код, сообщение и исходящий payload запроса для диагностики -
// HTTP статус не гарантирует соответствия конкретной бизнес-ошибке.
type Error struct {
	Exchange Name
	Kind     ErrorKind
	Code     string // биржевой код ошибки
	Message  string
	Endpoint string
	Payload  string // исходящий запрос (query или body)
	Original error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s (%s)", e.Exchange, e.Code, e.Message, e.Endpoint)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Exchange, e.Message, e.Endpoint)
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// transportError оборачивает сетевую ошибку (до получения ответа биржи)
func transportError(name Name, endpoint, payload string, err error) *Error {
	return &Error{
		Exchange: name,
		Kind:     KindTransport,
		Message:  err.Error(),
		Endpoint: endpoint,
		Payload:  payload,
		Original: err,
	}
}

// IsRateLimit возвращает true если ошибка - превышение лимита запросов
func IsRateLimit(err error) bool {
	var exchErr *Error
	return errors.As(err, &exchErr) && exchErr.Kind == KindRateLimit
}

// IsPermission возвращает true если ошибка - права доступа / IP whitelist
func IsPermission(err error) bool {
	var exchErr *Error
	return errors.As(err, &exchErr) && exchErr.Kind == KindPermission
}

// IsTransport возвращает true если ошибка сетевая (ответ биржи не получен)
func IsTransport(err error) bool {
	var exchErr *Error
	return errors.As(err, &exchErr) && exchErr.Kind == KindTransport
}

// IsRetryable возвращает true если вызов имеет смысл повторить
// (на следующем тике либо внутри retry-обёртки)
func IsRetryable(err error) bool {
	var exchErr *Error
	if !errors.As(err, &exchErr) {
		return false
	}
	return exchErr.Kind == KindTransport || exchErr.Kind == KindRateLimit || exchErr.Kind == KindUnknown
}
