package utils

import (
	"testing"
	"time"
)

func TestEpochMillisRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond).UTC()

	ms := ToEpochMillis(now)
	back := FromEpochMillis(ms)

	if !back.Equal(now) {
		t.Errorf("round trip mismatch: got %v, want %v", back, now)
	}
}

func TestSweepStartMillis(t *testing.T) {
	if got := SweepStartMillis(nil); got != 0 {
		t.Errorf("no prior trade must mean unranged sweep, got %d", got)
	}

	closedAt := time.UnixMilli(1700000000000).UTC()
	got := SweepStartMillis(&closedAt)

	// последняя сделка + 1 секунда
	if got != 1700000001000 {
		t.Errorf("SweepStartMillis = %d, want 1700000001000", got)
	}
}
