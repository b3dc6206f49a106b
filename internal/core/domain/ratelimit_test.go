package domain

import (
	"testing"
	"time"
)

func TestProgressiveDelayTiers(t *testing.T) {
	cases := []struct {
		violations int
		want       time.Duration
	}{
		{0, 0},
		{3, 0},
		{4, time.Second},
		{5, time.Second},
		{6, 5 * time.Second},
		{10, 5 * time.Second},
		{11, 15 * time.Second},
		{15, 15 * time.Second},
		{16, time.Minute},
		{20, time.Minute},
		{21, 5 * time.Minute},
		{100, 5 * time.Minute},
	}

	for _, tc := range cases {
		if got := ProgressiveDelay(tc.violations); got != tc.want {
			t.Errorf("ProgressiveDelay(%d) = %v, want %v", tc.violations, got, tc.want)
		}
	}
}
