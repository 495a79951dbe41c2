package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/chatscribe/internal/database"
)

// TimelineEntry is one captured message together with everything the
// bot produced while handling it, attachments ordered oldest first.
type TimelineEntry struct {
	Message   *database.Message
	Responses []*database.Response
	Events    []*database.Event
}

// Reader reconstructs per-user interaction history from the record
// store. All methods are pure reads and take no locks that block
// writers; each call reflects a consistent snapshot as of call time.
type Reader struct {
	store  database.Store
	logger *slog.Logger
}

// NewReader creates a history reader over the given store.
func NewReader(store database.Store, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{
		store:  store,
		logger: logger.With("component", "history_reader"),
	}
}

// UserMessages returns up to limit messages for a user, most recent
// first. Pass the oldest returned CreatedAt as 'before' to page further
// back; a zero 'before' starts from the newest message.
func (r *Reader) UserMessages(ctx context.Context, userID string, limit int, before time.Time) ([]*database.Message, error) {
	return r.store.GetUserMessages(ctx, userID, limit, before)
}

// MessageByID returns a single captured message by surrogate id.
// Returns database.ErrNotFound (wrapped) when no such message exists.
func (r *Reader) MessageByID(ctx context.Context, id int64) (*database.Message, error) {
	return r.store.GetMessageByID(ctx, id)
}

// ConversationTimeline reconstructs the interaction history of one user
// in one chat: for each captured message, most recent first, every
// response and event referencing it, each ordered by creation time
// ascending. Messages without responses or events appear with empty
// attachment slices, like an outer join.
func (r *Reader) ConversationTimeline(ctx context.Context, userID, chatID string, limit int) ([]TimelineEntry, error) {
	messages, err := r.store.GetChatMessages(ctx, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(messages))
	for n, msg := range messages {
		ids[n] = msg.ID
	}

	responses, err := r.store.ListResponsesForMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline responses: %w", err)
	}
	events, err := r.store.ListEventsForMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline events: %w", err)
	}

	responsesByMsg := make(map[int64][]*database.Response)
	for _, resp := range responses {
		if resp.MessageRef.Valid {
			responsesByMsg[resp.MessageRef.Int64] = append(responsesByMsg[resp.MessageRef.Int64], resp)
		}
	}
	eventsByMsg := make(map[int64][]*database.Event)
	for _, event := range events {
		if event.MessageRef.Valid {
			eventsByMsg[event.MessageRef.Int64] = append(eventsByMsg[event.MessageRef.Int64], event)
		}
	}

	entries := make([]TimelineEntry, len(messages))
	for n, msg := range messages {
		entries[n] = TimelineEntry{
			Message:   msg,
			Responses: responsesByMsg[msg.ID],
			Events:    eventsByMsg[msg.ID],
		}
	}

	r.logger.DebugContext(ctx, "Timeline reconstructed",
		"user_id", userID, "chat_id", chatID,
		"messages", len(messages), "responses", len(responses), "events", len(events))
	return entries, nil
}
