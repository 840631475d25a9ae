package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/parrotbot/internal/database"
	"github.com/edgard/parrotbot/internal/repeat"
)

const (
	episodesLimit         = 10
	episodeContentPreview = 40
	maxEpisodeQueryWindow = 90 * 24 * time.Hour
)

// NewEpisodesHandler returns a handler for /rp_episodes: recent repetition
// episodes recorded for the current chat, optionally limited to a duration
// window (e.g. "/rp_episodes 24h").
func NewEpisodesHandler(deps HandlerDeps) bot.HandlerFunc {
	return episodesHandler{deps}.Handle
}

type episodesHandler struct {
	deps HandlerDeps
}

func (h episodesHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "episodes")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Episodes handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	filter := database.EpisodeFilter{ChatID: chatID, Limit: episodesLimit}

	// Malformed duration filters are rejected here; they never reach the
	// store or the engine.
	if args := strings.Fields(update.Message.Text); len(args) > 1 {
		window, err := time.ParseDuration(args[1])
		if err != nil || window <= 0 || window > maxEpisodeQueryWindow {
			log.DebugContext(ctx, "Rejected invalid episode window", "arg", args[1], "error", err)
			sendReply(ctx, b, chatID, h.deps.Config.Messages.InvalidDuration, log)
			return
		}
		filter.Since = time.Now().UTC().Add(-window)
	}

	episodes, err := h.deps.Store.QueryEpisodes(ctx, filter)
	if err != nil {
		log.ErrorContext(ctx, "Failed to query episodes", "chat_id", chatID, "error", err)
		sendReply(ctx, b, chatID, h.deps.Config.Messages.GeneralError, log)
		return
	}
	if len(episodes) == 0 {
		sendReply(ctx, b, chatID, h.deps.Config.Messages.NoEpisodes, log)
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent repetition episodes:\n")
	for _, ep := range episodes {
		fmt.Fprintf(&sb, "#%d %s — %q, %d senders",
			ep.ID, ep.EndTime.Format("2006-01-02 15:04"), contentPreview(ep.Content), len(ep.Senders))
		if len(ep.Suspensions) > 0 {
			fmt.Fprintf(&sb, ", resumed %d time(s)", len(ep.Suspensions))
		}
		sb.WriteString("\n")
	}
	sendReply(ctx, b, chatID, sb.String(), log)
}

func contentPreview(content string) string {
	content = strings.ReplaceAll(content, repeat.ImagePlaceholder, "[image]")
	runes := []rune(content)
	if len(runes) <= episodeContentPreview {
		return content
	}
	return string(runes[:episodeContentPreview]) + "..."
}
