package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateEpisode inserts a new episode record and sets episode.ID.
	CreateEpisode(ctx context.Context, episode *Episode) error

	// DeleteEpisode removes an episode by id. Deleting a missing episode is
	// not an error.
	DeleteEpisode(ctx context.Context, id int64) error

	// GetEpisode retrieves an episode by id. Returns nil, nil if not found.
	GetEpisode(ctx context.Context, id int64) (*Episode, error)

	// QueryEpisodes retrieves episodes matching the filter, newest first.
	QueryEpisodes(ctx context.Context, filter EpisodeFilter) ([]*Episode, error)

	// AllEpisodes retrieves every persisted episode in chronological order.
	// Used by the counter rebuild.
	AllEpisodes(ctx context.Context) ([]*Episode, error)

	// MigrateChatEpisodes moves all episodes from one chat id to another and
	// returns the number of rows moved.
	MigrateChatEpisodes(ctx context.Context, fromChatID, toChatID int64) (int64, error)

	// ApplyStatsDeltas applies counter increments for multiple users in a
	// single transaction, creating rows as needed.
	ApplyStatsDeltas(ctx context.Context, deltas map[int64]StatsDelta) error

	// GetUserStats retrieves counters for one user. Returns nil, nil if the
	// user has no recorded stats.
	GetUserStats(ctx context.Context, userID int64) (*UserStats, error)

	// TopUserStats retrieves up to limit users ordered by repeat_count.
	TopUserStats(ctx context.Context, limit int) ([]*UserStats, error)

	// ReplaceAllUserStats atomically replaces the whole user_stats table with
	// the given counters. Used by the rebuild operation.
	ReplaceAllUserStats(ctx context.Context, stats map[int64]*UserStats) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateEpisode inserts a new episode record and sets episode.ID.
func (s *sqlxStore) CreateEpisode(ctx context.Context, episode *Episode) error {
	if episode == nil {
		return fmt.Errorf("cannot save nil episode")
	}
	if episode.ChatID == 0 {
		return fmt.Errorf("episode must have a non-zero chat_id")
	}
	if len(episode.Senders) < 2 {
		return fmt.Errorf("episode must have at least two senders, got %d", len(episode.Senders))
	}
	if episode.StartTime.IsZero() || episode.EndTime.IsZero() {
		return fmt.Errorf("episode must have non-zero start and end times")
	}

	now := time.Now().UTC()
	episode.CreatedAt = now
	episode.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving episode",
			"chat_id", episode.ChatID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `
        INSERT INTO episodes (created_at, updated_at, chat_id, content, images, senders, start_time, end_time, interrupter_id, suspensions)
        VALUES (:created_at, :updated_at, :chat_id, :content, :images, :senders, :start_time, :end_time, :interrupter_id, :suspensions);
    `

	result, err := tx.NamedExecContext(ctx, query, episode)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving episode", "chat_id", episode.ChatID, "error", err)
		return fmt.Errorf("failed to save episode (chat %d): %w", episode.ChatID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving episode",
			"chat_id", episode.ChatID, "error", err)
	} else {
		episode.ID = id
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"chat_id", episode.ChatID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Episode saved successfully",
		"chat_id", episode.ChatID, "episode_id", episode.ID, "senders", len(episode.Senders))
	return nil
}

// DeleteEpisode removes an episode by id.
func (s *sqlxStore) DeleteEpisode(ctx context.Context, id int64) error {
	if id == 0 {
		return fmt.Errorf("episode id cannot be zero")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting episode", "episode_id", id, "error", err)
		return fmt.Errorf("failed to delete episode %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "Delete requested for missing episode", "episode_id", id)
	}

	s.logger.DebugContext(ctx, "Episode deleted", "episode_id", id)
	return nil
}

// GetEpisode retrieves an episode by id. Returns nil, nil if not found.
func (s *sqlxStore) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	if id == 0 {
		return nil, fmt.Errorf("episode id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var episode Episode
	query := `SELECT id, created_at, updated_at, chat_id, content, images, senders, start_time, end_time, interrupter_id, suspensions
	          FROM episodes WHERE id = ?`

	err := s.db.GetContext(ctx, &episode, query, id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No episode found", "episode_id", id)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching episode",
			"episode_id", id, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting episode by ID", "episode_id", id, "error", err)
		return nil, fmt.Errorf("failed to get episode %d: %w", id, err)
	}

	return &episode, nil
}

// QueryEpisodes retrieves episodes matching the filter, newest first.
// The participant filter walks the JSON senders column with json_each.
func (s *sqlxStore) QueryEpisodes(ctx context.Context, filter EpisodeFilter) ([]*Episode, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	} else if limit > 200 {
		limit = 200
		s.logger.DebugContext(ctx, "Episode query limit exceeded maximum value, capping", "capped_limit", limit)
	}

	var conds []string
	var args []any

	if filter.ChatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.ParticipantID != 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(episodes.senders) WHERE json_each.value = ?)")
		args = append(args, filter.ParticipantID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "end_time >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "start_time <= ?")
		args = append(args, filter.Until)
	}

	query := `SELECT id, created_at, updated_at, chat_id, content, images, senders, start_time, end_time, interrupter_id, suspensions
	          FROM episodes`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY end_time DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var episodes []*Episode
	err := s.db.SelectContext(ctx, &episodes, query, args...)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while querying episodes", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error querying episodes",
			"chat_id", filter.ChatID, "participant_id", filter.ParticipantID, "error", err)
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}

	s.logger.DebugContext(ctx, "Queried episodes successfully",
		"chat_id", filter.ChatID, "count", len(episodes))
	return episodes, nil
}

// AllEpisodes retrieves every persisted episode in chronological order.
func (s *sqlxStore) AllEpisodes(ctx context.Context) ([]*Episode, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var episodes []*Episode
	query := `SELECT id, created_at, updated_at, chat_id, content, images, senders, start_time, end_time, interrupter_id, suspensions
	          FROM episodes ORDER BY end_time ASC, id ASC`

	err := s.db.SelectContext(ctx, &episodes, query)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching all episodes", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching all episodes", "error", err)
		return nil, fmt.Errorf("failed to fetch all episodes: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched all episodes", "count", len(episodes))
	return episodes, nil
}

// MigrateChatEpisodes moves all episodes from one chat id to another.
func (s *sqlxStore) MigrateChatEpisodes(ctx context.Context, fromChatID, toChatID int64) (int64, error) {
	if fromChatID == 0 || toChatID == 0 {
		return 0, fmt.Errorf("chat ids cannot be zero")
	}
	if fromChatID == toChatID {
		return 0, fmt.Errorf("source and destination chat ids are identical")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET chat_id = ?, updated_at = ? WHERE chat_id = ?`,
		toChatID, time.Now().UTC(), fromChatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error migrating episodes between chats",
			"from_chat_id", fromChatID, "to_chat_id", toChatID, "error", err)
		return 0, fmt.Errorf("failed to migrate episodes from chat %d to %d: %w", fromChatID, toChatID, err)
	}

	moved, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for episode migration", "error", err)
	}

	s.logger.InfoContext(ctx, "Migrated episodes between chats",
		"from_chat_id", fromChatID, "to_chat_id", toChatID, "count", moved)
	return moved, nil
}

// ApplyStatsDeltas applies counter increments for multiple users in a single
// transaction. Missing rows are created with the delta as the initial value.
func (s *sqlxStore) ApplyStatsDeltas(ctx context.Context, deltas map[int64]StatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for stats deltas", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `
        INSERT INTO user_stats (user_id, repeat_time, repeat_count, be_repeated_time, be_repeated_count, interrupt_time, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            repeat_time       = repeat_time + excluded.repeat_time,
            repeat_count      = repeat_count + excluded.repeat_count,
            be_repeated_time  = be_repeated_time + excluded.be_repeated_time,
            be_repeated_count = be_repeated_count + excluded.be_repeated_count,
            interrupt_time    = interrupt_time + excluded.interrupt_time,
            updated_at        = excluded.updated_at;
    `

	// Deterministic application order keeps replay comparisons stable.
	userIDs := make([]int64, 0, len(deltas))
	for userID := range deltas {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	now := time.Now().UTC()
	for _, userID := range userIDs {
		delta := deltas[userID]
		if delta.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx, query,
			userID, delta.RepeatTime, delta.RepeatCount, delta.BeRepeatedTime,
			delta.BeRepeatedCount, delta.InterruptTime, now, now); err != nil {
			s.logger.ErrorContext(ctx, "Error applying stats delta", "user_id", userID, "error", err)
			return fmt.Errorf("failed to apply stats delta for user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit stats deltas transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Applied stats deltas successfully", "users", len(deltas))
	return nil
}

// GetUserStats retrieves counters for one user. Returns nil, nil if absent.
func (s *sqlxStore) GetUserStats(ctx context.Context, userID int64) (*UserStats, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var stats UserStats
	query := `SELECT user_id, repeat_time, repeat_count, be_repeated_time, be_repeated_count, interrupt_time, created_at, updated_at
	          FROM user_stats WHERE user_id = ?`

	err := s.db.GetContext(ctx, &stats, query, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No stats found for user", "user_id", userID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user stats",
			"user_id", userID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user stats", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get stats for user %d: %w", userID, err)
	}

	return &stats, nil
}

// TopUserStats retrieves up to limit users ordered by repeat_count.
func (s *sqlxStore) TopUserStats(ctx context.Context, limit int) ([]*UserStats, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if limit <= 0 {
		limit = 10
	} else if limit > 50 {
		limit = 50
	}

	var stats []*UserStats
	query := `SELECT user_id, repeat_time, repeat_count, be_repeated_time, be_repeated_count, interrupt_time, created_at, updated_at
	          FROM user_stats
	          ORDER BY repeat_count DESC, user_id ASC
	          LIMIT ?`

	err := s.db.SelectContext(ctx, &stats, query, limit)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching leaderboard", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting leaderboard", "error", err)
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	return stats, nil
}

// ReplaceAllUserStats atomically replaces the whole user_stats table.
func (s *sqlxStore) ReplaceAllUserStats(ctx context.Context, stats map[int64]*UserStats) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for stats rebuild", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_stats`); err != nil {
		s.logger.ErrorContext(ctx, "Error clearing user stats during rebuild", "error", err)
		return fmt.Errorf("failed to clear user stats: %w", err)
	}

	query := `
        INSERT INTO user_stats (user_id, repeat_time, repeat_count, be_repeated_time, be_repeated_count, interrupt_time, created_at, updated_at)
        VALUES (:user_id, :repeat_time, :repeat_count, :be_repeated_time, :be_repeated_count, :interrupt_time, :created_at, :updated_at);
    `

	now := time.Now().UTC()
	for _, st := range stats {
		if st == nil {
			continue
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		st.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, st); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting rebuilt user stats", "user_id", st.UserID, "error", err)
			return fmt.Errorf("failed to insert rebuilt stats for user %d: %w", st.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit stats rebuild transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Replaced all user stats", "users", len(stats))
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
