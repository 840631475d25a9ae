package repeat_test

import (
	"testing"

	"github.com/edgard/parrotbot/internal/database"
	"github.com/edgard/parrotbot/internal/repeat"
)

func TestReplayStats(t *testing.T) {
	t.Parallel()

	episodes := []*database.Episode{
		{
			// 101 starts, 102 and 103 join, 102 repeats again.
			Senders:       database.Int64List{101, 102, 103, 102},
			InterrupterID: 201,
		},
		{
			// 102 starts its own episode, 101 joins.
			Senders:       database.Int64List{102, 101},
			InterrupterID: 201,
		},
		{
			// Single-sender episode, should contribute nothing.
			Senders: database.Int64List{105},
		},
	}

	stats := repeat.ReplayStats(episodes)

	tests := []struct {
		name     string
		userID   int64
		expected database.UserStats
	}{
		{
			name:   "Starter of first episode who later repeats",
			userID: 101,
			expected: database.UserStats{
				UserID:          101,
				RepeatTime:      1,
				RepeatCount:     1,
				BeRepeatedTime:  1,
				BeRepeatedCount: 3,
			},
		},
		{
			name:   "Repeater of first episode, starter of second",
			userID: 102,
			expected: database.UserStats{
				UserID:          102,
				RepeatTime:      1,
				RepeatCount:     2,
				BeRepeatedTime:  1,
				BeRepeatedCount: 1,
			},
		},
		{
			name:   "One-time repeater",
			userID: 103,
			expected: database.UserStats{
				UserID:      103,
				RepeatTime:  1,
				RepeatCount: 1,
			},
		},
		{
			name:   "Interrupter of both episodes",
			userID: 201,
			expected: database.UserStats{
				UserID:        201,
				InterruptTime: 2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := stats[tt.userID]
			if !ok {
				t.Fatalf("ReplayStats() has no entry for user %d", tt.userID)
			}
			if *got != tt.expected {
				t.Errorf("ReplayStats()[%d] = %+v, want %+v", tt.userID, *got, tt.expected)
			}
		})
	}

	if _, ok := stats[105]; ok {
		t.Error("ReplayStats() counted a single-sender episode")
	}
}

func TestReplayStats_Empty(t *testing.T) {
	t.Parallel()

	if got := repeat.ReplayStats(nil); len(got) != 0 {
		t.Errorf("ReplayStats(nil) = %v, want empty", got)
	}
}
