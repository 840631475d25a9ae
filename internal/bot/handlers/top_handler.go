package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const topLimit = 10

// NewTopHandler returns a handler for /rp_top: the repetition leaderboard
// ordered by messages repeated.
func NewTopHandler(deps HandlerDeps) bot.HandlerFunc {
	return topHandler{deps}.Handle
}

type topHandler struct {
	deps HandlerDeps
}

func (h topHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "top")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Top handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.TopUserStats(ctx, topLimit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch leaderboard", "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}
	if len(stats) == 0 {
		sendReply(ctx, b, chatID, h.deps.Config.Messages.NoStats, log)
		return
	}

	var sb strings.Builder
	sb.WriteString("Repetition leaderboard:\n")
	for i, st := range stats {
		fmt.Fprintf(&sb, "%d. user %d — %d repeated messages in %d repetitions, started %d, interrupted %d\n",
			i+1, st.UserID, st.RepeatCount, st.RepeatTime, st.BeRepeatedTime, st.InterruptTime)
	}
	sendReply(ctx, b, chatID, sb.String(), log)
}
