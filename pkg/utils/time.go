package utils

// time.go - утилиты для работы со временем бирж
//
// Биржевые API принимают и отдают время в epoch-миллисекундах,
// локальная БД хранит time.Time. Конвертация собрана здесь.

import "time"

// ToEpochMillis конвертирует время в биржевые epoch-миллисекунды
func ToEpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis конвертирует биржевые epoch-миллисекунды в UTC время
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// SweepStartMillis возвращает нижнюю границу выборки closed-pnl событий:
// момент последней локальной сделки + 1 секунда, в epoch-миллисекундах.
// nil lastClosedAt (сделок ещё нет) - выборка без нижней границы (0).
func SweepStartMillis(lastClosedAt *time.Time) int64 {
	if lastClosedAt == nil {
		return 0
	}
	return lastClosedAt.Add(time.Second).UnixMilli()
}
