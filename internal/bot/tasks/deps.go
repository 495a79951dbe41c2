// Package tasks implements the bot's scheduled background tasks:
// database maintenance and audit record retention.
package tasks

import (
	"log/slog"

	"github.com/edgard/chatscribe/internal/config"
	"github.com/edgard/chatscribe/internal/database"
)

// TaskDeps contains the dependencies shared by all scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
