package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/parrotbot/internal/repeat"
)

// NewRuntimeHandler returns a handler for /rp_runtime (admin only): a
// read-only dump of the engine's live state for the current chat, for
// debugging.
func NewRuntimeHandler(deps HandlerDeps) bot.HandlerFunc {
	return runtimeHandler{deps}.Handle
}

type runtimeHandler struct {
	deps HandlerDeps
}

func (h runtimeHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "runtime")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Runtime handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	snap, ok := h.deps.Engine.Snapshot(chatID)
	if !ok {
		tracked := h.deps.Engine.Chats()
		sendReply(ctx, b, chatID,
			fmt.Sprintf("No runtime state for this chat. %d chat(s) tracked.", len(tracked)), log)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Runtime state for chat %d:\n", snap.ChatID)
	if snap.Current != nil {
		sb.WriteString("current: ")
		writeRecord(&sb, *snap.Current)
	} else {
		sb.WriteString("current: none\n")
	}
	fmt.Fprintf(&sb, "candidates: %d\n", len(snap.Candidates))
	for _, r := range snap.Candidates {
		sb.WriteString("  - ")
		writeRecord(&sb, r)
	}
	fmt.Fprintf(&sb, "suspended: %d\n", len(snap.Suspended))
	for _, r := range snap.Suspended {
		sb.WriteString("  - ")
		writeRecord(&sb, r)
	}
	sendReply(ctx, b, chatID, sb.String(), log)
}

func writeRecord(sb *strings.Builder, r repeat.RecordSnapshot) {
	fmt.Fprintf(sb, "%q senders=%d staleness=%d suspensions=%d",
		contentPreview(r.Content), len(r.Senders), r.Staleness, r.Suspensions)
	if r.EpisodeID != 0 {
		fmt.Fprintf(sb, " episode=%d", r.EpisodeID)
	}
	sb.WriteString("\n")
}
