// Package tasks implements scheduled background tasks: database maintenance
// and the periodic counter rebuild.
package tasks

import (
	"log/slog"

	"github.com/edgard/parrotbot/internal/config"
	"github.com/edgard/parrotbot/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
