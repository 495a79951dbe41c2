// Package handlers contains Telegram bot command and message handlers,
// the capture middleware, and their registration logic.
package handlers

import (
	"log/slog"

	"github.com/edgard/chatscribe/internal/audit"
	"github.com/edgard/chatscribe/internal/config"
	"github.com/edgard/chatscribe/internal/database"
	"github.com/edgard/chatscribe/internal/transcribe"
)

// HandlerDeps provides dependencies for Telegram handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Config *config.Config
	Store  database.Store
	Keyer  *audit.Keyer
	Engine transcribe.Engine
}
