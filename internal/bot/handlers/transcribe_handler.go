package handlers

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatscribe/internal/audit"
	"github.com/edgard/chatscribe/internal/database"
	"github.com/edgard/chatscribe/internal/transcribe"
)

// NewTranscribeHandler returns the default message handler. It
// transcribes voice, audio, video, and audio/video document messages and
// replies with an "unsupported" notice for everything else.
func NewTranscribeHandler(deps HandlerDeps) bot.HandlerFunc {
	return transcribeHandler{deps}.Handle
}

type transcribeHandler struct {
	deps HandlerDeps
}

func (h transcribeHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "transcribe")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	handle, ok := resolveHandle(ctx, h.deps, msg)
	if !ok {
		return
	}

	kind, media := mediaDescriptor(msg)
	if !transcribable(kind, media) {
		if strings.HasPrefix(msg.Text, "/") {
			// Unknown command; the menu commands have their own handlers.
			return
		}
		log.DebugContext(ctx, "Ignoring non-transcribable message",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "kind", kind)
		if err := SendAndRecord(ctx, b, h.deps, handle, database.ResponseKindInfo, h.deps.Config.Messages.Unsupported); err != nil {
			log.ErrorContext(ctx, "Failed to send unsupported notice", "error", err, "chat_id", msg.Chat.ID)
		}
		return
	}

	log.InfoContext(ctx, "Handling transcription request",
		"chat_id", msg.Chat.ID, "message_id", msg.ID, "kind", kind, "mime_type", media.MimeType)

	RecordEvent(ctx, h.deps, handle, database.EventTranscriptionStart, map[string]any{
		"kind":      kind,
		"mime_type": media.MimeType,
		"filename":  media.Filename,
	})

	if err := SendAndRecord(ctx, b, h.deps, handle, database.ResponseKindProcessing, h.deps.Config.Messages.Processing); err != nil {
		log.ErrorContext(ctx, "Failed to send processing notice", "error", err, "chat_id", msg.Chat.ID)
	}

	started := time.Now()
	result, fileHash, err := h.transcribe(ctx, b, handle, media)
	if err != nil {
		log.ErrorContext(ctx, "Transcription failed",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		RecordEvent(ctx, h.deps, handle, database.EventTranscriptionError, map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if sendErr := SendAndRecord(ctx, b, h.deps, handle, database.ResponseKindError, h.deps.Config.Messages.GeneralError); sendErr != nil {
			log.ErrorContext(ctx, "Failed to send error notice", "error", sendErr, "chat_id", msg.Chat.ID)
		}
		return
	}

	RecordEvent(ctx, h.deps, handle, database.EventTranscriptionSuccess, map[string]any{
		"provider":    result.Provider,
		"language":    result.Language,
		"chars":       len(result.Text),
		"file_hash":   fileHash,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	text := result.Text
	if prefix := h.deps.Config.Messages.TranscriptPrefix; prefix != "" {
		text = prefix + "\n\n" + text
	}
	for _, chunk := range ChunkText(text, messageChunkSize) {
		if err := SendAndRecord(ctx, b, h.deps, handle, database.ResponseKindText, chunk); err != nil {
			log.ErrorContext(ctx, "Failed to send transcript chunk", "error", err, "chat_id", msg.Chat.ID)
			return
		}
	}

	log.InfoContext(ctx, "Transcription delivered",
		"chat_id", msg.Chat.ID, "message_id", msg.ID,
		"provider", result.Provider, "chars", len(result.Text))
}

// transcribe downloads the media, reuses a cached transcript when the
// same content was seen before, and otherwise calls the engine and
// stores the result. The transcript is linked to the captured message
// either way; a transcript already linked elsewhere stays put.
func (h transcribeHandler) transcribe(ctx context.Context, b *bot.Bot, handle audit.Handle, media *audit.Media) (*transcribe.Result, string, error) {
	data, err := DownloadMedia(ctx, b, h.deps.Config.Telegram.Token, media.FileID)
	if err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	if cached, err := h.deps.Store.GetTranscript(ctx, fileHash); err == nil {
		h.deps.Logger.DebugContext(ctx, "Reusing cached transcript",
			"file_hash", fileHash, "provider", cached.Provider)
		h.link(ctx, fileHash, handle)
		return &transcribe.Result{
			Text:     cached.Text,
			Language: cached.Language.String,
			Provider: cached.Provider,
		}, fileHash, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, "", err
	}

	var language string
	if settings, err := h.deps.Store.GetUserSettings(ctx, handle.UserID); err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to load user settings, using defaults",
			"user_id", handle.UserID, "error", err)
	} else if settings != nil && settings.Language.Valid {
		language = settings.Language.String
	}

	result, err := h.deps.Engine.Transcribe(ctx, transcribe.Request{
		Data:     data,
		MimeType: media.MimeType,
		Filename: media.Filename,
		Language: language,
	})
	if err != nil {
		return nil, "", err
	}

	tr := &database.Transcript{
		FileHash:   fileHash,
		Text:       result.Text,
		Provider:   result.Provider,
		MessageRef: sql.NullInt64{Int64: handle.MessageID, Valid: true},
		UserID:     sql.NullString{String: handle.UserID, Valid: true},
	}
	if result.Language != "" {
		tr.Language = sql.NullString{String: result.Language, Valid: true}
	}
	if err := h.deps.Store.SaveTranscript(ctx, tr); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to save transcript",
			"file_hash", fileHash, "error", err)
	}

	return result, fileHash, nil
}

func (h transcribeHandler) link(ctx context.Context, fileHash string, handle audit.Handle) {
	err := h.deps.Store.LinkTranscript(ctx, fileHash, handle.MessageID, handle.UserID)
	switch {
	case errors.Is(err, database.ErrAlreadyLinked):
		h.deps.Logger.DebugContext(ctx, "Transcript already linked to another message",
			"file_hash", fileHash, "db_message_id", handle.MessageID)
	case err != nil:
		h.deps.Logger.ErrorContext(ctx, "Failed to link transcript",
			"file_hash", fileHash, "db_message_id", handle.MessageID, "error", err)
	}
}

// transcribable reports whether the media kind carries audio or video
// content the engine can process.
func transcribable(kind string, media *audit.Media) bool {
	switch kind {
	case database.MessageKindVoice, database.MessageKindAudio,
		database.MessageKindVideo, database.MessageKindVideoNote:
		return true
	case database.MessageKindDocument:
		return media != nil &&
			(strings.HasPrefix(media.MimeType, "audio/") || strings.HasPrefix(media.MimeType, "video/"))
	}
	return false
}
