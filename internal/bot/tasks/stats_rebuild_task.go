package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/parrotbot/internal/repeat"
)

// newStatsRebuildTask creates the scheduled task function that replays all
// persisted episodes and replaces the user counters with the result. Useful
// after manual episode edits or migrations.
func newStatsRebuildTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "stats_rebuild")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled stats rebuild task...")
		startTime := time.Now()

		episodes, err := deps.Store.AllEpisodes(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Stats rebuild failed fetching episodes", "error", err)
			return fmt.Errorf("stats rebuild failed: %w", err)
		}

		stats := repeat.ReplayStats(episodes)
		if err := deps.Store.ReplaceAllUserStats(ctx, stats); err != nil {
			log.ErrorContext(ctx, "Stats rebuild failed replacing counters", "error", err)
			return fmt.Errorf("stats rebuild failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled stats rebuild task completed successfully",
			"episodes", len(episodes), "users", len(stats), "duration", time.Since(startTime))
		return nil
	}
}
