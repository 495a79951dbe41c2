package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatscribe/internal/database"
)

// NewSettingsHandler returns a handler for the /settings command.
func NewSettingsHandler(deps HandlerDeps) bot.HandlerFunc {
	return settingsHandler{deps}.Handle
}

// settingsHandler shows and updates per-user transcription settings.
type settingsHandler struct {
	deps HandlerDeps
}

func (h settingsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "settings")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Settings handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	log.InfoContext(ctx, "Handling /settings command", "chat_id", update.Message.Chat.ID, "user_id", update.Message.From.ID)

	handle, ok := resolveHandle(ctx, h.deps, update.Message)
	if !ok {
		return
	}

	args := commandArgs(update.Message.Text)
	RecordEvent(ctx, h.deps, handle, database.EventCommandSettings, map[string]any{"args": args})

	var reply string
	var kind = database.ResponseKindText
	switch {
	case len(args) == 0:
		text, err := h.currentSettings(ctx, handle.UserID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load user settings", "user_id", handle.UserID, "error", err)
			reply, kind = h.deps.Config.Messages.GeneralError, database.ResponseKindError
		} else {
			reply = text
		}
	case len(args) == 2:
		if err := h.updateSetting(ctx, handle.UserID, args[0], args[1]); err != nil {
			log.WarnContext(ctx, "Rejected settings update", "user_id", handle.UserID, "key", args[0], "error", err)
			reply, kind = err.Error(), database.ResponseKindError
		} else {
			reply = fmt.Sprintf("Saved: %s = %s", args[0], args[1])
		}
	default:
		reply = h.deps.Config.Messages.Settings
	}

	if err := SendAndRecord(ctx, b, h.deps, handle, kind, reply); err != nil {
		log.ErrorContext(ctx, "Failed to send settings reply", "error", err, "chat_id", update.Message.Chat.ID)
	}
}

func (h settingsHandler) currentSettings(ctx context.Context, userID string) (string, error) {
	settings, err := h.deps.Store.GetUserSettings(ctx, userID)
	if err != nil {
		return "", err
	}

	provider := h.deps.Config.Transcriber.Model
	language := "auto"
	mode := "reply"
	if settings != nil {
		if settings.Provider.Valid {
			provider = settings.Provider.String
		}
		if settings.Language.Valid {
			language = settings.Language.String
		}
		if settings.Mode.Valid {
			mode = settings.Mode.String
		}
	}

	return fmt.Sprintf("Current settings:\nprovider: %s\nlanguage: %s\nmode: %s\n\n%s",
		provider, language, mode, h.deps.Config.Messages.Settings), nil
}

func (h settingsHandler) updateSetting(ctx context.Context, userID, key, value string) error {
	settings := &database.UserSettings{UserID: userID}
	field := sql.NullString{String: value, Valid: true}

	switch strings.ToLower(key) {
	case "provider":
		settings.Provider = field
	case "language":
		settings.Language = field
	case "mode":
		if value != "reply" && value != "quote" {
			return fmt.Errorf("mode must be one of: reply, quote")
		}
		settings.Mode = field
	default:
		return fmt.Errorf("unknown setting %q, expected one of: provider, language, mode", key)
	}

	return h.deps.Store.UpsertUserSettings(ctx, settings)
}

// commandArgs returns the whitespace-separated arguments following the
// command itself.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
