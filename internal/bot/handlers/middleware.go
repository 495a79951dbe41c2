package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatscribe/internal/audit"
	"github.com/edgard/chatscribe/internal/database"
)

// CaptureMessages creates the middleware that routes every inbound
// message through the audit interceptor before any handler runs. The
// interceptor persists the message, deduplicates retried deliveries
// (skipping the handler chain for them), and records an error event if
// the chain panics out through an error path.
//
// When the capture itself fails, the handler chain is deliberately not
// invoked: durably recording receipt comes before handling.
func CaptureMessages(interceptor *audit.Interceptor, logger *slog.Logger) tgbot.Middleware {
	log := logger.With("middleware", "capture")

	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			msg := update.Message
			if msg == nil || msg.From == nil {
				// Not a message update; nothing to audit.
				next(ctx, b, update)
				return
			}

			in := inboundFromMessage(msg)
			err := interceptor.Intercept(ctx, in, func(ctx context.Context, _ audit.Handle) error {
				next(ctx, b, update)
				return nil
			})
			if err != nil {
				log.ErrorContext(ctx, "Failed to capture inbound message, handler chain skipped",
					"chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// inboundFromMessage maps a Telegram message onto the transport-agnostic
// inbound shape the interceptor consumes.
func inboundFromMessage(msg *models.Message) audit.Inbound {
	in := audit.Inbound{
		ExternalID: int64(msg.ID),
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       msg.Text,
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}
	in.MediaKind, in.Media = mediaDescriptor(msg)
	return in
}

// mediaDescriptor extracts the media classification and file reference
// from a message, or returns an empty kind for text-only messages.
func mediaDescriptor(msg *models.Message) (string, *audit.Media) {
	switch {
	case msg.Voice != nil:
		return database.MessageKindVoice, &audit.Media{
			FileID:       msg.Voice.FileID,
			FileUniqueID: msg.Voice.FileUniqueID,
			Filename:     fmt.Sprintf("voice_%s.ogg", msg.Voice.FileUniqueID),
			MimeType:     orDefault(msg.Voice.MimeType, "audio/ogg"),
		}
	case msg.Audio != nil:
		return database.MessageKindAudio, &audit.Media{
			FileID:       msg.Audio.FileID,
			FileUniqueID: msg.Audio.FileUniqueID,
			Filename:     orDefault(msg.Audio.FileName, fmt.Sprintf("audio_%s.mp3", msg.Audio.FileUniqueID)),
			MimeType:     orDefault(msg.Audio.MimeType, "audio/mpeg"),
		}
	case msg.Video != nil:
		return database.MessageKindVideo, &audit.Media{
			FileID:       msg.Video.FileID,
			FileUniqueID: msg.Video.FileUniqueID,
			Filename:     orDefault(msg.Video.FileName, fmt.Sprintf("video_%s.mp4", msg.Video.FileUniqueID)),
			MimeType:     orDefault(msg.Video.MimeType, "video/mp4"),
		}
	case msg.VideoNote != nil:
		return database.MessageKindVideoNote, &audit.Media{
			FileID:       msg.VideoNote.FileID,
			FileUniqueID: msg.VideoNote.FileUniqueID,
			Filename:     fmt.Sprintf("videonote_%s.mp4", msg.VideoNote.FileUniqueID),
			MimeType:     "video/mp4",
		}
	case msg.Document != nil:
		return database.MessageKindDocument, &audit.Media{
			FileID:       msg.Document.FileID,
			FileUniqueID: msg.Document.FileUniqueID,
			Filename:     orDefault(msg.Document.FileName, fmt.Sprintf("doc_%s", msg.Document.FileUniqueID)),
			MimeType:     msg.Document.MimeType,
		}
	case len(msg.Photo) > 0:
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		return database.MessageKindPhoto, &audit.Media{
			FileID:       largest.FileID,
			FileUniqueID: largest.FileUniqueID,
			Filename:     fmt.Sprintf("photo_%s.jpg", largest.FileUniqueID),
			MimeType:     "image/jpeg",
		}
	}
	return "", nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
