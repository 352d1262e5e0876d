package ui

import "testing"

func TestSpeedSteps(t *testing.T) {
	tests := []struct {
		cur            float64
		faster, slower float64
	}{
		{1.0, 1.25, 0.75},
		{0.5, 0.75, 0.5},
		{2.0, 2.0, 1.75},
		{1.1, 1.25, 1.0},
	}
	for _, tt := range tests {
		if got := fasterSpeed(tt.cur); got != tt.faster {
			t.Errorf("fasterSpeed(%v) = %v, want %v", tt.cur, got, tt.faster)
		}
		if got := slowerSpeed(tt.cur); got != tt.slower {
			t.Errorf("slowerSpeed(%v) = %v, want %v", tt.cur, got, tt.slower)
		}
	}
}
