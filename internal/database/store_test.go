package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func insertTestMessage(t *testing.T, store Store, externalID int64, userID, chatID string) *Message {
	t.Helper()

	msg := &Message{
		MessageID: externalID,
		UserID:    userID,
		ChatID:    chatID,
		Kind:      MessageKindText,
		Content:   sql.NullString{String: "hello", Valid: true},
	}
	created, err := store.InsertMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("failed to insert message: %v", err)
	}
	if !created {
		t.Fatalf("expected message (external id %d, chat %s) to be created", externalID, chatID)
	}
	return msg
}

func TestInsertMessageAssignsIdentity(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	msg := insertTestMessage(t, store, 100, "u1", "c1")

	if msg.ID == 0 {
		t.Error("expected a non-zero surrogate id")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if msg.CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", msg.CreatedAt.Location())
	}
}

func TestInsertMessageValidation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  *Message
	}{
		{"nil message", nil},
		{"zero message_id", &Message{UserID: "u1", ChatID: "c1", Kind: MessageKindText}},
		{"empty chat_id", &Message{MessageID: 1, UserID: "u1", Kind: MessageKindText}},
		{"empty user_id", &Message{MessageID: 1, ChatID: "c1", Kind: MessageKindText}},
		{"empty kind", &Message{MessageID: 1, UserID: "u1", ChatID: "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.InsertMessage(ctx, tt.msg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestInsertMessageDuplicateIsNoOp(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	first := insertTestMessage(t, store, 200, "u1", "c1")

	dup := &Message{
		MessageID: 200,
		UserID:    "u1",
		ChatID:    "c1",
		Kind:      MessageKindVoice,
		Content:   sql.NullString{String: "changed", Valid: true},
	}
	created, err := store.InsertMessage(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert must not fail: %v", err)
	}
	if created {
		t.Error("duplicate natural key must not create a new row")
	}
	if dup.ID != first.ID {
		t.Errorf("duplicate must resolve to the existing id %d, got %d", first.ID, dup.ID)
	}
	if !dup.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("duplicate must carry the original created_at %v, got %v", first.CreatedAt, dup.CreatedAt)
	}

	// The stored row keeps its original attributes.
	stored, err := store.GetMessageByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if stored.Kind != MessageKindText {
		t.Errorf("redelivery must not overwrite kind, got %q", stored.Kind)
	}
	if stored.Content.String != "hello" {
		t.Errorf("redelivery must not overwrite content, got %q", stored.Content.String)
	}
}

func TestInsertMessageSameExternalIDAcrossChats(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	a := insertTestMessage(t, store, 300, "u1", "c1")
	b := insertTestMessage(t, store, 300, "u1", "c2")

	if a.ID == b.ID {
		t.Error("same external id in different chats must create distinct rows")
	}
}

func TestInsertResponseReferenceCheck(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := insertTestMessage(t, store, 400, "u1", "c1")

	valid := &Response{
		MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
		UserID:     "u1", ChatID: "c1",
		Kind: ResponseKindText, Content: "hi",
	}
	if err := store.InsertResponse(ctx, valid); err != nil {
		t.Fatalf("valid reference must be accepted: %v", err)
	}
	if valid.ID == 0 {
		t.Error("expected a non-zero response id")
	}

	// A response without a message reference is allowed.
	unref := &Response{
		UserID: "u1", ChatID: "c1",
		Kind: ResponseKindInfo, Content: "maintenance notice",
	}
	if err := store.InsertResponse(ctx, unref); err != nil {
		t.Fatalf("null reference must be accepted: %v", err)
	}

	dangling := &Response{
		MessageRef: sql.NullInt64{Int64: msg.ID + 999, Valid: true},
		UserID:     "u1", ChatID: "c1",
		Kind: ResponseKindText, Content: "hi",
	}
	err := store.InsertResponse(ctx, dangling)
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
}

func TestInsertEventReferenceCheck(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := insertTestMessage(t, store, 500, "u1", "c1")

	valid := &Event{
		MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
		UserID:     "u1",
		Kind:       EventTranscriptionStart,
		Details:    sql.NullString{String: `{"kind":"voice"}`, Valid: true},
	}
	if err := store.InsertEvent(ctx, valid); err != nil {
		t.Fatalf("valid reference must be accepted: %v", err)
	}

	dangling := &Event{
		MessageRef: sql.NullInt64{Int64: msg.ID + 999, Valid: true},
		UserID:     "u1",
		Kind:       EventTranscriptionStart,
	}
	err := store.InsertEvent(ctx, dangling)
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
}

func TestTranscriptLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msgA := insertTestMessage(t, store, 600, "u1", "c1")
	msgB := insertTestMessage(t, store, 601, "u1", "c1")

	tr := &Transcript{FileHash: "hash-a", Text: "first pass", Provider: "gemini"}
	if err := store.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("failed to save transcript: %v", err)
	}

	if _, err := store.GetTranscript(ctx, "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown hash, got %v", err)
	}

	if err := store.LinkTranscript(ctx, "no-such-hash", msgA.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound linking unknown hash, got %v", err)
	}
	if err := store.LinkTranscript(ctx, "hash-a", msgB.ID+999, "u1"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference linking to missing message, got %v", err)
	}

	if err := store.LinkTranscript(ctx, "hash-a", msgA.ID, "u1"); err != nil {
		t.Fatalf("failed to link transcript: %v", err)
	}
	// Linking the same message again is a no-op.
	if err := store.LinkTranscript(ctx, "hash-a", msgA.ID, "u1"); err != nil {
		t.Errorf("re-linking the same message must be a no-op, got %v", err)
	}
	// A different message is rejected: the link is immutable.
	if err := store.LinkTranscript(ctx, "hash-a", msgB.ID, "u1"); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("expected ErrAlreadyLinked, got %v", err)
	}

	// Re-saving the same hash refreshes the text but keeps the link.
	update := &Transcript{FileHash: "hash-a", Text: "second pass", Provider: "gemini"}
	if err := store.SaveTranscript(ctx, update); err != nil {
		t.Fatalf("failed to re-save transcript: %v", err)
	}
	got, err := store.GetTranscript(ctx, "hash-a")
	if err != nil {
		t.Fatalf("failed to get transcript: %v", err)
	}
	if got.Text != "second pass" {
		t.Errorf("expected refreshed text, got %q", got.Text)
	}
	if !got.MessageRef.Valid || got.MessageRef.Int64 != msgA.ID {
		t.Errorf("expected link to message %d to survive, got %+v", msgA.ID, got.MessageRef)
	}
}

func TestResolveMessage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := insertTestMessage(t, store, 700, "u1", "c1")

	got, err := store.ResolveMessage(ctx, 700, "c1")
	if err != nil {
		t.Fatalf("failed to resolve message: %v", err)
	}
	if got.ID != msg.ID {
		t.Errorf("expected id %d, got %d", msg.ID, got.ID)
	}

	if _, err := store.ResolveMessage(ctx, 700, "c2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong chat, got %v", err)
	}
	if _, err := store.GetMessageByID(ctx, msg.ID+999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetUserMessagesPagination(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	var all []*Message
	for i := int64(1); i <= 5; i++ {
		all = append(all, insertTestMessage(t, store, 800+i, "u1", "c1"))
		time.Sleep(5 * time.Millisecond) // distinct created_at for cursor paging
	}
	insertTestMessage(t, store, 900, "other-user", "c1")

	// First page: newest first.
	page, err := store.GetUserMessages(ctx, "u1", 2, time.Time{})
	if err != nil {
		t.Fatalf("failed to get user messages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if page[0].ID != all[4].ID || page[1].ID != all[3].ID {
		t.Errorf("expected newest-first page [%d %d], got [%d %d]",
			all[4].ID, all[3].ID, page[0].ID, page[1].ID)
	}

	// Next page via the created_at cursor.
	next, err := store.GetUserMessages(ctx, "u1", 2, page[1].CreatedAt)
	if err != nil {
		t.Fatalf("failed to get next page: %v", err)
	}
	if len(next) != 2 {
		t.Fatalf("expected 2 messages on second page, got %d", len(next))
	}
	if next[0].ID != all[2].ID || next[1].ID != all[1].ID {
		t.Errorf("expected page [%d %d], got [%d %d]",
			all[2].ID, all[1].ID, next[0].ID, next[1].ID)
	}

	// Default limit covers the full history, scoped to the user.
	full, err := store.GetUserMessages(ctx, "u1", 0, time.Time{})
	if err != nil {
		t.Fatalf("failed to get full history: %v", err)
	}
	if len(full) != 5 {
		t.Errorf("expected 5 messages for u1, got %d", len(full))
	}
}

func TestListAttachmentsForMessages(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := insertTestMessage(t, store, 1000, "u1", "c1")

	for _, content := range []string{"one", "two"} {
		resp := &Response{
			MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
			UserID:     "u1", ChatID: "c1",
			Kind: ResponseKindText, Content: content,
		}
		if err := store.InsertResponse(ctx, resp); err != nil {
			t.Fatalf("failed to insert response: %v", err)
		}
	}
	event := &Event{
		MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
		UserID:     "u1", Kind: EventTranscriptionSuccess,
	}
	if err := store.InsertEvent(ctx, event); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	responses, err := store.ListResponsesForMessages(ctx, []int64{msg.ID})
	if err != nil {
		t.Fatalf("failed to list responses: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0].Content != "one" || responses[1].Content != "two" {
		t.Errorf("expected insertion order [one two], got [%s %s]",
			responses[0].Content, responses[1].Content)
	}

	events, err := store.ListEventsForMessages(ctx, []int64{msg.ID})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}

	// Empty input short-circuits without touching the database.
	if got, err := store.ListResponsesForMessages(ctx, nil); err != nil || got != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", got, err)
	}
	if got, err := store.ListEventsForMessages(ctx, nil); err != nil || got != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", got, err)
	}
}

func TestUserSettingsUpsert(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetUserSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil settings for unknown user, got %+v", got)
	}

	if err := store.UpsertUserSettings(ctx, &UserSettings{
		UserID:   "u1",
		Language: sql.NullString{String: "pt", Valid: true},
	}); err != nil {
		t.Fatalf("failed to upsert settings: %v", err)
	}

	// A partial update leaves unset fields untouched.
	if err := store.UpsertUserSettings(ctx, &UserSettings{
		UserID: "u1",
		Mode:   sql.NullString{String: "quote", Valid: true},
	}); err != nil {
		t.Fatalf("failed to upsert settings: %v", err)
	}

	got, err = store.GetUserSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if got.Language.String != "pt" {
		t.Errorf("expected language pt to survive partial update, got %q", got.Language.String)
	}
	if got.Mode.String != "quote" {
		t.Errorf("expected mode quote, got %q", got.Mode.String)
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := insertTestMessage(t, store, 1100, "u1", "c1")
	resp := &Response{
		MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
		UserID:     "u1", ChatID: "c1",
		Kind: ResponseKindText, Content: "hi",
	}
	if err := store.InsertResponse(ctx, resp); err != nil {
		t.Fatalf("failed to insert response: %v", err)
	}
	event := &Event{
		MessageRef: sql.NullInt64{Int64: msg.ID, Valid: true},
		UserID:     "u1", Kind: EventTranscriptionSuccess,
	}
	if err := store.InsertEvent(ctx, event); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	tr := &Transcript{FileHash: "hash-prune", Text: "kept", Provider: "gemini"}
	if err := store.SaveTranscript(ctx, tr); err != nil {
		t.Fatalf("failed to save transcript: %v", err)
	}
	if err := store.LinkTranscript(ctx, "hash-prune", msg.ID, "u1"); err != nil {
		t.Fatalf("failed to link transcript: %v", err)
	}

	// A cutoff in the past removes nothing.
	removed, err := store.PruneBefore(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing pruned with past cutoff, got %d", removed)
	}

	// A cutoff in the future removes the message and its dependents.
	removed, err = store.PruneBefore(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 rows pruned (message, response, event), got %d", removed)
	}

	if _, err := store.GetMessageByID(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected pruned message to be gone, got %v", err)
	}

	// The transcript survives with its link detached.
	got, err := store.GetTranscript(ctx, "hash-prune")
	if err != nil {
		t.Fatalf("expected transcript to survive pruning: %v", err)
	}
	if got.MessageRef.Valid {
		t.Errorf("expected transcript link to be detached, got ref %d", got.MessageRef.Int64)
	}
}
