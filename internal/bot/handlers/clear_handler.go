package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewClearHandler returns a handler for /rp_clear (admin only): drops the
// engine's live state for the current chat, or for all chats with
// "/rp_clear all". In-flight drafts are discarded, persisted episodes are
// untouched.
func NewClearHandler(deps HandlerDeps) bot.HandlerFunc {
	return clearHandler{deps}.Handle
}

type clearHandler struct {
	deps HandlerDeps
}

func (h clearHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "clear")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Clear handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	args := strings.Fields(update.Message.Text)
	if len(args) > 1 && args[1] == "all" {
		n := h.deps.Engine.ClearAll()
		log.InfoContext(ctx, "Cleared runtime state for all chats", "chats", n)
		sendReply(ctx, b, chatID, fmt.Sprintf("Cleared runtime state for %d chat(s).", n), log)
		return
	}

	if h.deps.Engine.Clear(chatID) {
		log.InfoContext(ctx, "Cleared runtime state", "chat_id", chatID)
		sendReply(ctx, b, chatID, "Cleared runtime state for this chat.", log)
	} else {
		sendReply(ctx, b, chatID, "No runtime state for this chat.", log)
	}
}
