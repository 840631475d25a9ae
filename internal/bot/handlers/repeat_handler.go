package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/parrotbot/internal/repeat"
)

// NewRepeatHandler returns the default message handler: every non-command
// group message is normalized and fed to the repetition engine, and the bot
// joins in with a copy of the message when the engine says so.
//
// deps is a pointer because the Normalizer depends on the bot instance for
// file downloads and is only assigned after the bot has been created. It must
// be set before the bot starts polling.
func NewRepeatHandler(deps *HandlerDeps) bot.HandlerFunc {
	return repeatHandler{deps}.Handle
}

type repeatHandler struct {
	deps *HandlerDeps
}

func (h repeatHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "repeat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	// Commands are handled by their registered handlers; unknown commands
	// are not repetition material either.
	if strings.HasPrefix(msg.Text, "/") {
		return
	}
	// Never track our own messages; a self-echo must not extend the episode
	// it celebrates.
	if botInfo := h.deps.Config.Telegram.BotInfo; botInfo != nil && msg.From.ID == botInfo.ID {
		return
	}

	normalized, ok := h.deps.Normalizer.Normalize(ctx, msg)
	if !ok {
		return
	}

	arrival := time.Unix(int64(msg.Date), 0).UTC()
	decision := h.deps.Engine.Track(ctx, msg.Chat.ID, msg.From.ID, normalized, arrival)
	if decision != repeat.Echo {
		return
	}

	log.InfoContext(ctx, "Joining repetition", "chat_id", msg.Chat.ID, "message_id", msg.ID)
	_, err := b.CopyMessage(ctx, &bot.CopyMessageParams{
		ChatID:     msg.Chat.ID,
		FromChatID: msg.Chat.ID,
		MessageID:  msg.ID,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to echo repeated message",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}
