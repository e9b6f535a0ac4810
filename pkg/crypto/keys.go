package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Параметры вывода ключа из парольной фразы.
// Соль фиксирована на уровне приложения: фраза одна, ключ должен быть
// воспроизводим между перезапусками и инстансами.
const (
	keyDerivationIters = 4096
	keyDerivationSalt  = "tradedesk-credential-store-v1"
)

// DeriveKey выводит 32-байтовый ключ AES-256 из парольной фразы (PBKDF2-SHA256).
// Позволяет задавать ENCRYPTION_KEY человекочитаемой строкой произвольной длины
// вместо ровно 32 байт.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(keyDerivationSalt), keyDerivationIters, KeyLength, sha256.New)
}
