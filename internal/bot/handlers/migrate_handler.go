package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewMigrateHandler returns a handler for /rp_migrate <from> <to> (admin
// only): moves all persisted episodes from one chat id to another.
func NewMigrateHandler(deps HandlerDeps) bot.HandlerFunc {
	return migrateHandler{deps}.Handle
}

type migrateHandler struct {
	deps HandlerDeps
}

func (h migrateHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "migrate")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Migrate handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	args := strings.Fields(update.Message.Text)
	if len(args) != 3 {
		sendReply(ctx, b, chatID, "Usage: /rp_migrate <from_chat_id> <to_chat_id>", log)
		return
	}

	fromID, err1 := strconv.ParseInt(args[1], 10, 64)
	toID, err2 := strconv.ParseInt(args[2], 10, 64)
	if err1 != nil || err2 != nil {
		sendReply(ctx, b, chatID, "Chat ids must be integers.", log)
		return
	}

	moved, err := h.deps.Store.MigrateChatEpisodes(ctx, fromID, toID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to migrate episodes",
			"from_chat_id", fromID, "to_chat_id", toID, "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}

	sendReply(ctx, b, chatID,
		fmt.Sprintf("Moved %d episode(s) from chat %d to chat %d.", moved, fromID, toID), log)
}
