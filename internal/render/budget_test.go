package render

import (
	"testing"
	"time"
)

func TestRemainingBudgetMs(t *testing.T) {
	tests := []struct {
		timeoutMs int
		elapsed   time.Duration
		want      int
	}{
		{30000, 0, 30000},
		{30000, 20 * time.Second, 10000},
		{30000, 29900 * time.Millisecond, 1000},
		{5000, 10 * time.Second, 1000}, // floor at 1000 even if elapsed exceeds timeout
	}
	for _, tt := range tests {
		if got := remainingBudgetMs(tt.timeoutMs, tt.elapsed); got != tt.want {
			t.Errorf("remainingBudgetMs(%d, %v) = %d, want %d", tt.timeoutMs, tt.elapsed, got, tt.want)
		}
	}
}

func TestMinMaxInt(t *testing.T) {
	if minInt(3, 5) != 3 {
		t.Error("minInt wrong")
	}
	if maxInt(3, 5) != 5 {
		t.Error("maxInt wrong")
	}
}
