package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/parrotbot/internal/repeat"
)

// NewRebuildHandler returns a handler for /rp_rebuild (admin only): replays
// every persisted episode and replaces all user counters with the result.
func NewRebuildHandler(deps HandlerDeps) bot.HandlerFunc {
	return rebuildHandler{deps}.Handle
}

type rebuildHandler struct {
	deps HandlerDeps
}

func (h rebuildHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "rebuild")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Rebuild handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	episodes, err := h.deps.Store.AllEpisodes(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch episodes for rebuild", "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}

	stats := repeat.ReplayStats(episodes)
	if err := h.deps.Store.ReplaceAllUserStats(ctx, stats); err != nil {
		log.ErrorContext(ctx, "Failed to replace user stats", "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}

	log.InfoContext(ctx, "Rebuilt user stats from episodes",
		"episodes", len(episodes), "users", len(stats))
	sendReply(ctx, b, chatID,
		fmt.Sprintf("Rebuilt counters for %d user(s) from %d episode(s).", len(stats), len(episodes)), log)
}
