package handlers

import (
	"log/slog"

	"github.com/edgard/parrotbot/internal/config"
	"github.com/edgard/parrotbot/internal/database"
	"github.com/edgard/parrotbot/internal/repeat"
)

// HandlerDeps provides dependencies for Telegram command and message
// handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Engine     *repeat.Engine
	Normalizer *repeat.Normalizer
}
