package services

import (
	"math"
	"testing"

	"focusroom/models"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name   string
		total  float64
		target float64
		want   float64
	}{
		{"empty", 0, 100, 0},
		{"halfway", 50, 100, 50},
		{"complete", 100, 100, 100},
		{"overshoot clamps", 150, 100, 100},
		{"fractional", 1, 3, 100.0 / 3.0},
		{"zero target", 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progressPercent(tt.total, tt.target)
			// Float division orderings differ in the last ulp, so compare
			// with a tolerance instead of exact equality.
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("progressPercent(%v, %v) = %v, want %v", tt.total, tt.target, got, tt.want)
			}
		})
	}
}

func TestChallengeChannel(t *testing.T) {
	roomID := uint(7)

	group := &models.Challenge{Scope: models.ChallengeScopeGroup, RoomID: &roomID}
	if got := challengeChannel(group); got != RoomChannel(roomID) {
		t.Fatalf("group challenge channel = %q, want %q", got, RoomChannel(roomID))
	}

	personal := &models.Challenge{Scope: models.ChallengeScopePersonal}
	if got := challengeChannel(personal); got != "challenges" {
		t.Fatalf("personal challenge channel = %q, want challenges", got)
	}
}
