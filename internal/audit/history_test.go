package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/edgard/chatscribe/internal/database"
)

func TestReaderUserMessages(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	reader := NewReader(store, discardLogger())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		captureTestMessage(t, store, 20+i, "u1", "c1")
		time.Sleep(5 * time.Millisecond)
	}
	captureTestMessage(t, store, 30, "u2", "c1")

	msgs, err := reader.UserMessages(ctx, "u1", 10, time.Time{})
	if err != nil {
		t.Fatalf("failed to read user messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for n := 1; n < len(msgs); n++ {
		if msgs[n].CreatedAt.After(msgs[n-1].CreatedAt) {
			t.Errorf("messages not in newest-first order at index %d", n)
		}
	}
}

func TestReaderMessageByID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	reader := NewReader(store, discardLogger())
	ctx := context.Background()

	msg := captureTestMessage(t, store, 40, "u1", "c1")

	got, err := reader.MessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	if got.ID != msg.ID {
		t.Errorf("expected id %d, got %d", msg.ID, got.ID)
	}

	if _, err := reader.MessageByID(ctx, msg.ID+999); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationTimeline(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	reader := NewReader(store, discardLogger())
	ctx := context.Background()

	answered := captureTestMessage(t, store, 50, "u1", "c1")
	time.Sleep(5 * time.Millisecond)
	bare := captureTestMessage(t, store, 51, "u1", "c1")
	captureTestMessage(t, store, 52, "u1", "c2")

	for _, content := range []string{"processing", "done"} {
		resp := &database.Response{
			MessageRef: sql.NullInt64{Int64: answered.ID, Valid: true},
			UserID:     "u1", ChatID: "c1",
			Kind: database.ResponseKindText, Content: content,
		}
		if err := store.InsertResponse(ctx, resp); err != nil {
			t.Fatalf("failed to insert response: %v", err)
		}
	}
	event := &database.Event{
		MessageRef: sql.NullInt64{Int64: answered.ID, Valid: true},
		UserID:     "u1", Kind: database.EventTranscriptionSuccess,
	}
	if err := store.InsertEvent(ctx, event); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	entries, err := reader.ConversationTimeline(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("failed to build timeline: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Newest first: the bare message leads with empty attachments.
	if entries[0].Message.ID != bare.ID {
		t.Errorf("expected newest message %d first, got %d", bare.ID, entries[0].Message.ID)
	}
	if len(entries[0].Responses) != 0 || len(entries[0].Events) != 0 {
		t.Errorf("expected empty attachments for unanswered message, got %d responses, %d events",
			len(entries[0].Responses), len(entries[0].Events))
	}

	if entries[1].Message.ID != answered.ID {
		t.Errorf("expected message %d second, got %d", answered.ID, entries[1].Message.ID)
	}
	if len(entries[1].Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(entries[1].Responses))
	}
	if entries[1].Responses[0].Content != "processing" || entries[1].Responses[1].Content != "done" {
		t.Errorf("responses out of order: [%s %s]",
			entries[1].Responses[0].Content, entries[1].Responses[1].Content)
	}
	if len(entries[1].Events) != 1 {
		t.Errorf("expected 1 event, got %d", len(entries[1].Events))
	}
}

func TestConversationTimelineEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	reader := NewReader(store, discardLogger())

	entries, err := reader.ConversationTimeline(context.Background(), "nobody", "c1", 10)
	if err != nil {
		t.Fatalf("timeline over empty history failed: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil entries, got %v", entries)
	}
}
