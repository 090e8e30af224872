package services

import (
	"testing"
	"time"

	"focusroom/models"
)

func TestValidateStartInput(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		breakMin int
		wantErr  bool
	}{
		{"minimum duration", 5, 0, false},
		{"maximum duration", 480, 0, false},
		{"typical", 25, 5, false},
		{"too short", 4, 0, true},
		{"too long", 481, 0, true},
		{"zero duration", 0, 0, true},
		{"negative break", 25, -1, true},
		{"break too long", 25, 61, true},
		{"maximum break", 25, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStartInput(tt.duration, tt.breakMin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateStartInput(%d, %d) error = %v, wantErr %v", tt.duration, tt.breakMin, err, tt.wantErr)
			}
			if err != nil {
				if _, ok := err.(*ValidationError); !ok {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestRemainingMinutes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		started time.Time
		dur     int
		want    int
	}{
		{"just started", now, 25, 25},
		{"halfway", now.Add(-10 * time.Minute), 25, 15},
		{"partial minute rounds up", now.Add(-10*time.Minute - 30*time.Second), 25, 15},
		{"exactly expired", now.Add(-25 * time.Minute), 25, 0},
		{"long expired", now.Add(-3 * time.Hour), 25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &models.Competition{StartedAt: tt.started, DurationMin: tt.dur}
			if got := remainingMinutes(c, now); got != tt.want {
				t.Fatalf("remainingMinutes = %d, want %d", got, tt.want)
			}
		})
	}
}

func participant(id, userID uint, score float64) models.CompetitionParticipant {
	return models.CompetitionParticipant{ID: id, UserID: userID, FinalScore: score}
}

func TestAssignRanks_DescendingByScore(t *testing.T) {
	parts := []models.CompetitionParticipant{
		participant(1, 10, 70),
		participant(2, 20, 90),
		participant(3, 30, 50),
	}

	ranked := assignRanks(parts, nil)

	if len(ranked) != 3 {
		t.Fatalf("ranked %d participants, want 3", len(ranked))
	}
	wantOrder := []uint{20, 10, 30}
	for i, entry := range ranked {
		if entry.UserID != wantOrder[i] {
			t.Fatalf("rank %d = user %d, want user %d", i+1, entry.UserID, wantOrder[i])
		}
		if entry.Rank != i+1 {
			t.Fatalf("entry %d has rank %d, want %d", i, entry.Rank, i+1)
		}
	}
}

func TestAssignRanks_PermutationWithTies(t *testing.T) {
	// A:90, B:70, C:90, D:50. A and C must take ranks {1,2}, B and D
	// ranks {3,4}.
	parts := []models.CompetitionParticipant{
		participant(1, 1, 90), // A
		participant(2, 2, 70), // B
		participant(3, 3, 90), // C
		participant(4, 4, 50), // D
	}

	ranked := assignRanks(parts, nil)

	ranks := make(map[uint]int, len(ranked))
	seen := make(map[int]bool, len(ranked))
	for _, entry := range ranked {
		ranks[entry.UserID] = entry.Rank
		if seen[entry.Rank] {
			t.Fatalf("rank %d assigned twice", entry.Rank)
		}
		seen[entry.Rank] = true
	}
	for r := 1; r <= 4; r++ {
		if !seen[r] {
			t.Fatalf("rank %d missing; ranks are not a permutation of 1..4", r)
		}
	}

	if ranks[1] > 2 || ranks[3] > 2 {
		t.Fatalf("tied top scorers got ranks %d and %d, want {1,2}", ranks[1], ranks[3])
	}
	if ranks[2] != 3 || ranks[4] != 4 {
		t.Fatalf("B rank = %d (want 3), D rank = %d (want 4)", ranks[2], ranks[4])
	}
}

func TestAssignRanks_TieBreakEarlierSessionWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	parts := []models.CompetitionParticipant{
		participant(1, 1, 90),
		participant(2, 2, 90),
	}
	starts := map[uint]time.Time{
		1: base.Add(5 * time.Minute),
		2: base, // started earlier, wins the tie
	}

	ranked := assignRanks(parts, starts)

	if ranked[0].UserID != 2 || ranked[1].UserID != 1 {
		t.Fatalf("tie-break order = [%d, %d], want [2, 1]", ranked[0].UserID, ranked[1].UserID)
	}
}

func TestAssignRanks_TieBreakFallsBackToUserID(t *testing.T) {
	parts := []models.CompetitionParticipant{
		participant(1, 9, 80),
		participant(2, 3, 80),
	}

	ranked := assignRanks(parts, nil)

	if ranked[0].UserID != 3 || ranked[1].UserID != 9 {
		t.Fatalf("fallback tie-break order = [%d, %d], want [3, 9]", ranked[0].UserID, ranked[1].UserID)
	}
}

func TestAssignRanks_Empty(t *testing.T) {
	if got := assignRanks(nil, nil); len(got) != 0 {
		t.Fatalf("assignRanks(nil) = %v, want empty", got)
	}
}
