package interaction

import (
	"testing"
	"time"
)

func TestAllowed(t *testing.T) {
	last := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		last     *time.Time
		now      time.Time
		cooldown int
		want     bool
	}{
		{"never interacted", nil, last, 6, true},
		{"never interacted zero cooldown", nil, time.Time{}, 0, true},
		{"one millisecond early", &last, last.Add(6*time.Second - time.Millisecond), 6, false},
		{"exactly at boundary", &last, last.Add(6 * time.Second), 6, true},
		{"long after", &last, last.Add(time.Hour), 300, true},
		{"clock behind", &last, last.Add(-time.Second), 1, false},
		{"zero cooldown", &last, last, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.last, tt.now, tt.cooldown); got != tt.want {
				t.Errorf("Allowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllowed_BoundaryForManyCooldowns(t *testing.T) {
	last := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for c := 1; c <= 300; c++ {
		window := time.Duration(c) * time.Second
		if Allowed(&last, last.Add(window-time.Millisecond), c) {
			t.Fatalf("cooldown %d passed 1ms early", c)
		}
		if !Allowed(&last, last.Add(window), c) {
			t.Fatalf("cooldown %d blocked at boundary", c)
		}
	}
}
