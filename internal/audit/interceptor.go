package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/edgard/chatscribe/internal/database"
)

// errorCaptureTimeout bounds the event write the interceptor performs on
// behalf of failed business logic, so a slow store cannot pin a request
// that has already failed.
const errorCaptureTimeout = 5 * time.Second

// Media describes an attachment carried by an inbound unit.
type Media struct {
	FileID       string
	FileUniqueID string
	Filename     string
	MimeType     string
}

// Inbound is the transport-agnostic shape of one delivered unit of work.
type Inbound struct {
	ExternalID int64
	ChatID     string
	UserID     string

	// Text holds the message text, command payload, or media caption.
	Text string

	// MediaKind is the media classification (voice, audio, video,
	// video_note, document, photo) or empty for text-only units.
	MediaKind string
	Media     *Media
}

// HandlerFunc is the business-logic entry point the interceptor wraps.
// The correlation handle links everything the handler persists back to
// the captured message.
type HandlerFunc func(ctx context.Context, handle Handle) error

// Interceptor guarantees capture-before-handling: no inbound unit
// reaches business logic without a durably persisted message row, and
// units from the same chat are captured and handled in arrival order.
type Interceptor struct {
	store  database.Store
	logger *slog.Logger

	mu    sync.Mutex
	chats map[string]*chatGate
}

type chatGate struct {
	sync.Mutex
	refs int
}

// NewInterceptor creates an interceptor over the given store.
func NewInterceptor(store database.Store, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interceptor{
		store:  store,
		logger: logger.With("component", "interceptor"),
		chats:  make(map[string]*chatGate),
	}
}

// Intercept captures one inbound unit and then runs next with its
// correlation handle. Redelivered units (duplicate natural key) reuse
// the stored message and skip next entirely. When next fails, an error
// event referencing the handle is persisted before the failure
// propagates; a store outage during that capture is logged locally and
// never masks the original error.
func (i *Interceptor) Intercept(ctx context.Context, in Inbound, next HandlerFunc) error {
	key := NaturalKey{ExternalID: in.ExternalID, ChatID: in.ChatID}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("cannot capture inbound unit: %w", err)
	}
	if in.UserID == "" {
		return fmt.Errorf("cannot capture inbound unit: empty user id")
	}

	// Units from different chats proceed concurrently; units from the
	// same chat queue here so arrival order survives into the store.
	gate := i.acquireGate(in.ChatID)
	gate.Lock()
	defer func() {
		gate.Unlock()
		i.releaseGate(in.ChatID)
	}()

	msg := newMessageRecord(in)
	created, err := i.store.InsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to capture inbound message (external id %d, chat %s): %w",
			in.ExternalID, in.ChatID, err)
	}

	handle := HandleFor(msg)

	if !created {
		// Retried delivery: the unit was already captured and handled.
		i.logger.InfoContext(ctx, "Duplicate delivery ignored",
			"chat_id", in.ChatID, "message_id", in.ExternalID, "db_message_id", handle.MessageID)
		return nil
	}

	i.logger.DebugContext(ctx, "Inbound message captured",
		"chat_id", in.ChatID, "message_id", in.ExternalID,
		"db_message_id", handle.MessageID, "kind", msg.Kind)

	if err := next(ctx, handle); err != nil {
		i.captureFailure(ctx, handle, err)
		return err
	}
	return nil
}

// captureFailure persists an error event for a failed handler. The
// write runs on a detached context so a cancelled request can still be
// recorded, and its own failure is only logged.
func (i *Interceptor) captureFailure(ctx context.Context, handle Handle, handlerErr error) {
	details := map[string]any{"error": handlerErr.Error()}
	if errors.Is(handlerErr, context.DeadlineExceeded) || errors.Is(handlerErr, context.Canceled) {
		details["timeout"] = true
	}

	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, handlerErr.Error()))
	}

	eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorCaptureTimeout)
	defer cancel()

	event := &database.Event{
		MessageRef: sql.NullInt64{Int64: handle.MessageID, Valid: true},
		UserID:     handle.UserID,
		Kind:       database.EventError,
		Details:    sql.NullString{String: string(payload), Valid: true},
	}
	if saveErr := i.store.InsertEvent(eventCtx, event); saveErr != nil {
		// Fallback channel: the failure must not be lost entirely, and a
		// secondary store failure must not crash the original request.
		i.logger.ErrorContext(ctx, "Failed to persist error event, logging locally",
			"db_message_id", handle.MessageID, "handler_error", handlerErr, "save_error", saveErr)
		return
	}

	i.logger.DebugContext(ctx, "Handler failure captured",
		"db_message_id", handle.MessageID, "error", handlerErr)
}

func newMessageRecord(in Inbound) *database.Message {
	msg := &database.Message{
		MessageID: in.ExternalID,
		UserID:    in.UserID,
		ChatID:    in.ChatID,
		Kind:      Classify(in),
	}
	if in.Text != "" {
		msg.Content = sql.NullString{String: in.Text, Valid: true}
	}
	if in.Media != nil {
		msg.FileID = sql.NullString{String: in.Media.FileID, Valid: in.Media.FileID != ""}
		msg.FileUniqueID = sql.NullString{String: in.Media.FileUniqueID, Valid: in.Media.FileUniqueID != ""}
		msg.Filename = sql.NullString{String: in.Media.Filename, Valid: in.Media.Filename != ""}
		msg.MimeType = sql.NullString{String: in.Media.MimeType, Valid: in.Media.MimeType != ""}
	}
	return msg
}

func (i *Interceptor) acquireGate(chatID string) *chatGate {
	i.mu.Lock()
	defer i.mu.Unlock()

	gate, ok := i.chats[chatID]
	if !ok {
		gate = &chatGate{}
		i.chats[chatID] = gate
	}
	gate.refs++
	return gate
}

func (i *Interceptor) releaseGate(chatID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	gate, ok := i.chats[chatID]
	if !ok {
		return
	}
	gate.refs--
	if gate.refs == 0 {
		delete(i.chats, chatID)
	}
}
