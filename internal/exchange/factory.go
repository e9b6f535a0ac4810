package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Name - имя поддерживаемой биржи
type Name string

// Поддерживаемые биржи
const (
	Bybit   Name = "bybit"
	Binance Name = "binance"
	BingX   Name = "bingx"
)

// ErrUnsupported возвращается фабрикой для неизвестного имени биржи.
// В штатной работе не встречается: имена бирж приходят из справочника.
var ErrUnsupported = errors.New("unsupported exchange")

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []Name{Bybit, Binance, BingX}

// ParseName приводит строку к имени биржи
func ParseName(s string) (Name, error) {
	name := Name(strings.ToLower(s))
	for _, supported := range SupportedExchanges {
		if name == supported {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, s)
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(s string) bool {
	_, err := ParseName(s)
	return err == nil
}

// New создает адаптер биржи, привязанный к паре ключей.
// demo=true привязывает адаптер к демо/тестовому хосту биржи -
// это другой base URL, не флаг в запросе.
func New(name Name, apiKey, secretKey string, demo bool) (Adapter, error) {
	switch name {
	case Bybit:
		return NewBybit(apiKey, secretKey, demo), nil
	case Binance:
		return NewBinance(apiKey, secretKey, demo), nil
	case BingX:
		return NewBingX(apiKey, secretKey, demo), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}
