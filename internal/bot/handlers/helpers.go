package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatscribe/internal/audit"
	"github.com/edgard/chatscribe/internal/database"
)

const (
	fileDownloadTimeout = 60 * time.Second
	dbSaveTimeout       = 5 * time.Second

	maxDownloadBytes = 50 * 1024 * 1024

	// Telegram caps messages at 4096 chars; leave headroom for the
	// transcript prefix and quoting.
	messageChunkSize = 3500
)

// resolveHandle derives the correlation handle for a message the
// capture middleware has already persisted.
func resolveHandle(ctx context.Context, deps HandlerDeps, msg *models.Message) (audit.Handle, bool) {
	handle, err := deps.Keyer.Resolve(ctx,
		int64(msg.ID), strconv.FormatInt(msg.Chat.ID, 10))
	if err != nil {
		deps.Logger.ErrorContext(ctx, "Failed to resolve correlation handle",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		return audit.Handle{}, false
	}
	return handle, true
}

// RecordEvent persists a lifecycle event against the handle. Audit
// failures are logged and swallowed: the audit trail is a side-channel
// and must never change what the user sees.
func RecordEvent(ctx context.Context, deps HandlerDeps, handle audit.Handle, kind string, details any) {
	event := &database.Event{
		MessageRef: sql.NullInt64{Int64: handle.MessageID, Valid: true},
		UserID:     handle.UserID,
		Kind:       kind,
	}
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			deps.Logger.WarnContext(ctx, "Failed to marshal event details",
				"kind", kind, "error", err)
		} else {
			event.Details = sql.NullString{String: string(payload), Valid: true}
		}
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()
	if err := deps.Store.InsertEvent(dbCtx, event); err != nil {
		deps.Logger.ErrorContext(ctx, "Failed to record event",
			"kind", kind, "db_message_id", handle.MessageID, "error", err)
	}
}

// RecordResponse persists the audit copy of an outbound response.
// Failures are logged and swallowed, as with RecordEvent.
func RecordResponse(ctx context.Context, deps HandlerDeps, handle audit.Handle, kind, content string) {
	resp := &database.Response{
		MessageRef: sql.NullInt64{Int64: handle.MessageID, Valid: true},
		UserID:     handle.UserID,
		ChatID:     handle.ChatID,
		Kind:       kind,
		Content:    content,
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()
	if err := deps.Store.InsertResponse(dbCtx, resp); err != nil {
		deps.Logger.ErrorContext(ctx, "Failed to record response",
			"kind", kind, "db_message_id", handle.MessageID, "error", err)
	}
}

// SendAndRecord delivers a message to the chat and then records its
// audit copy. Delivery comes first: an audit failure never withholds the
// response from the user, and a delivery failure is not audited as sent.
func SendAndRecord(ctx context.Context, b *bot.Bot, deps HandlerDeps, handle audit.Handle, kind, text string) error {
	chatID, err := strconv.ParseInt(handle.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q in handle: %w", handle.ChatID, err)
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("failed to send message to chat %s: %w", handle.ChatID, err)
	}

	RecordResponse(ctx, deps, handle, kind, text)
	return nil
}

// DownloadMedia fetches a file's bytes from Telegram by file id.
func DownloadMedia(ctx context.Context, b *bot.Bot, token, fileID string) (data []byte, err error) {
	if token == "" {
		return nil, fmt.Errorf("empty token provided")
	}
	if fileID == "" {
		return nil, fmt.Errorf("empty fileID provided")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	fileObj, err := b.GetFile(downloadCtx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, fmt.Errorf("empty file path returned from Telegram")
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("received empty file data")
	}
	return data, nil
}

// ChunkText splits text into pieces of at most size bytes, on rune
// boundaries.
func ChunkText(text string, size int) []string {
	if size <= 0 || text == "" {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}
