package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for /rp_stats: the requester's repetition
// counters.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Stats handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	stats, err := h.deps.Store.GetUserStats(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch user stats", "user_id", userID, "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}
	if stats == nil {
		sendReply(ctx, b, chatID, h.deps.Config.Messages.NoStats, log)
		return
	}

	text := fmt.Sprintf(
		"Your repetition stats:\n"+
			"joined a repetition: %d times (%d messages)\n"+
			"started a repetition that caught on: %d times (%d repeats received)\n"+
			"interrupted a repetition: %d times",
		stats.RepeatTime, stats.RepeatCount,
		stats.BeRepeatedTime, stats.BeRepeatedCount,
		stats.InterruptTime,
	)
	sendReply(ctx, b, chatID, text, log)
}

// sendReply sends a plain text reply and logs delivery failures.
func sendReply(ctx context.Context, b *bot.Bot, chatID int64, text string, log *slog.Logger) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}
