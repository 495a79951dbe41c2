package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for audit record operations.
// Methods accept context.Context for cancellation and timeouts.
// Message, Response, and Event rows are append-only: the store exposes
// no update operations for them, and the only deletion path is
// PruneBefore, which exists for the external retention task.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// InsertMessage persists a captured inbound message. The insert is
	// idempotent on the (message_id, chat_id) natural key: when the row
	// already exists, the existing surrogate id and created_at are
	// loaded into msg and created=false is returned. Duplicates are
	// never reported as an error.
	InsertMessage(ctx context.Context, msg *Message) (created bool, err error)

	// InsertResponse persists an outbound response. A non-null
	// MessageRef must point at an existing message, otherwise
	// ErrInvalidReference is returned.
	InsertResponse(ctx context.Context, resp *Response) error

	// InsertEvent persists a lifecycle event. Reference rules match
	// InsertResponse; the reference is optional.
	InsertEvent(ctx context.Context, event *Event) error

	// SaveTranscript upserts a transcript keyed by file hash. Text,
	// language, and provider are refreshed on conflict; an existing
	// message link is never overwritten.
	SaveTranscript(ctx context.Context, tr *Transcript) error

	// GetTranscript retrieves a transcript by file hash.
	// Returns ErrNotFound if the hash is unknown.
	GetTranscript(ctx context.Context, fileHash string) (*Transcript, error)

	// LinkTranscript attaches a transcript to the message that produced
	// it. Returns ErrNotFound for an unknown hash, ErrAlreadyLinked when
	// the transcript is linked to a different message, and
	// ErrInvalidReference when the message row does not exist. Linking
	// the same message twice is a no-op.
	LinkTranscript(ctx context.Context, fileHash string, messageID int64, userID string) error

	// ResolveMessage looks up a captured message by its natural key.
	// Returns ErrNotFound when the message was never captured.
	ResolveMessage(ctx context.Context, externalID int64, chatID string) (*Message, error)

	// GetMessageByID retrieves a message by surrogate id.
	// Returns ErrNotFound if no such row exists.
	GetMessageByID(ctx context.Context, id int64) (*Message, error)

	// GetUserMessages retrieves up to 'limit' messages for a user, most
	// recent first. A non-zero 'before' restricts results to rows
	// created strictly before it, for cursor pagination.
	GetUserMessages(ctx context.Context, userID string, limit int, before time.Time) ([]*Message, error)

	// GetChatMessages retrieves up to 'limit' messages for a user within
	// one chat, most recent first.
	GetChatMessages(ctx context.Context, userID, chatID string, limit int) ([]*Message, error)

	// ListResponsesForMessages retrieves all responses referencing the
	// given message ids, ordered by created_at ascending.
	ListResponsesForMessages(ctx context.Context, messageIDs []int64) ([]*Response, error)

	// ListEventsForMessages retrieves all events referencing the given
	// message ids, ordered by created_at ascending.
	ListEventsForMessages(ctx context.Context, messageIDs []int64) ([]*Event, error)

	// GetUserSettings retrieves settings for a user. Returns nil, nil
	// when the user has no stored settings.
	GetUserSettings(ctx context.Context, userID string) (*UserSettings, error)

	// UpsertUserSettings inserts or partially updates user settings.
	// Null fields keep their stored value.
	UpsertUserSettings(ctx context.Context, settings *UserSettings) error

	// PruneBefore deletes messages, responses, and events created before
	// the cutoff and detaches transcript links to pruned messages. Used
	// only by the retention task; returns the number of rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) InsertMessage(ctx context.Context, msg *Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("cannot insert nil message")
	}
	if msg.MessageID == 0 {
		return false, fmt.Errorf("message must have a non-zero message_id")
	}
	if msg.ChatID == "" {
		return false, fmt.Errorf("message must have a non-empty chat_id")
	}
	if msg.UserID == "" {
		return false, fmt.Errorf("message must have a non-empty user_id")
	}
	if msg.Kind == "" {
		return false, fmt.Errorf("message must have a non-empty kind")
	}

	msg.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for message insert",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	query := `
        INSERT INTO messages (message_id, user_id, chat_id, kind, content,
                              file_id, file_unique_id, filename, mime_type, created_at)
        VALUES (:message_id, :user_id, :chat_id, :kind, :content,
                :file_id, :file_unique_id, :filename, :mime_type, :created_at)
        ON CONFLICT (message_id, chat_id) DO NOTHING;
    `

	result, err := tx.NamedExecContext(ctx, query, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting message",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		return false, fmt.Errorf("failed to insert message (chat %s, external id %d): %w",
			msg.ChatID, msg.MessageID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	created := affected == 1
	if created {
		id, err := result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("failed to read inserted message id: %w", err)
		}
		msg.ID = id
	} else {
		// Redelivery: load the existing row's identity so the caller can
		// reuse it as the correlation handle.
		var existing Message
		err := tx.GetContext(ctx, &existing,
			`SELECT id, user_id, kind, created_at FROM messages WHERE message_id = ? AND chat_id = ?`,
			msg.MessageID, msg.ChatID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error loading existing message after duplicate insert",
				"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
			return false, fmt.Errorf("failed to load existing message (chat %s, external id %d): %w",
				msg.ChatID, msg.MessageID, err)
		}
		msg.ID = existing.ID
		msg.CreatedAt = existing.CreatedAt
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit message insert",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Message insert finished",
		"chat_id", msg.ChatID, "message_id", msg.MessageID, "db_id", msg.ID, "created", created)
	return created, nil
}

func (s *sqlxStore) InsertResponse(ctx context.Context, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("cannot insert nil response")
	}
	if resp.ChatID == "" {
		return fmt.Errorf("response must have a non-empty chat_id")
	}
	if resp.UserID == "" {
		return fmt.Errorf("response must have a non-empty user_id")
	}
	if resp.Kind == "" {
		return fmt.Errorf("response must have a non-empty kind")
	}
	if resp.Content == "" {
		return fmt.Errorf("response must have non-empty content")
	}

	resp.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for response insert",
			"chat_id", resp.ChatID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	if err := s.checkMessageRef(ctx, tx, resp.MessageRef); err != nil {
		return fmt.Errorf("response reference check failed: %w", err)
	}

	query := `
        INSERT INTO responses (message_ref, user_id, chat_id, kind, content, created_at)
        VALUES (:message_ref, :user_id, :chat_id, :kind, :content, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, query, resp)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting response",
			"chat_id", resp.ChatID, "user_id", resp.UserID, "error", err)
		return fmt.Errorf("failed to insert response (chat %s): %w", resp.ChatID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		resp.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving response",
			"chat_id", resp.ChatID, "error", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit response insert",
			"chat_id", resp.ChatID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Response saved",
		"chat_id", resp.ChatID, "kind", resp.Kind, "db_id", resp.ID)
	return nil
}

func (s *sqlxStore) InsertEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("cannot insert nil event")
	}
	if event.UserID == "" {
		return fmt.Errorf("event must have a non-empty user_id")
	}
	if event.Kind == "" {
		return fmt.Errorf("event must have a non-empty kind")
	}

	event.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for event insert",
			"user_id", event.UserID, "kind", event.Kind, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	if err := s.checkMessageRef(ctx, tx, event.MessageRef); err != nil {
		return fmt.Errorf("event reference check failed: %w", err)
	}

	query := `
        INSERT INTO events (message_ref, user_id, kind, details, created_at)
        VALUES (:message_ref, :user_id, :kind, :details, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, query, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting event",
			"user_id", event.UserID, "kind", event.Kind, "error", err)
		return fmt.Errorf("failed to insert event (kind %s): %w", event.Kind, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving event",
			"user_id", event.UserID, "kind", event.Kind, "error", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit event insert",
			"user_id", event.UserID, "kind", event.Kind, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Event saved",
		"user_id", event.UserID, "kind", event.Kind, "db_id", event.ID)
	return nil
}

// checkMessageRef validates an optional message reference inside the
// caller's transaction. With max open conns = 1 the check-then-insert
// pair cannot interleave with another writer.
func (s *sqlxStore) checkMessageRef(ctx context.Context, tx *sqlx.Tx, ref sql.NullInt64) error {
	if !ref.Valid {
		return nil
	}

	var exists int
	err := tx.GetContext(ctx, &exists, `SELECT 1 FROM messages WHERE id = ? LIMIT 1`, ref.Int64)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("message id %d: %w", ref.Int64, ErrInvalidReference)
	case err != nil:
		return fmt.Errorf("failed to check message reference %d: %w", ref.Int64, err)
	}
	return nil
}

func (s *sqlxStore) SaveTranscript(ctx context.Context, tr *Transcript) error {
	if tr == nil {
		return fmt.Errorf("cannot save nil transcript")
	}
	if tr.FileHash == "" {
		return fmt.Errorf("transcript must have a non-empty file_hash")
	}
	if tr.Provider == "" {
		return fmt.Errorf("transcript must have a non-empty provider")
	}

	tr.CreatedAt = time.Now().UTC()

	// Existing link columns win over excluded ones: once linked, the
	// association is immutable even when the transcript text is refreshed.
	query := `
        INSERT INTO transcripts (file_hash, language, text, provider, message_ref, user_id, created_at)
        VALUES (:file_hash, :language, :text, :provider, :message_ref, :user_id, :created_at)
        ON CONFLICT (file_hash) DO UPDATE SET
            language = excluded.language,
            text = excluded.text,
            provider = excluded.provider,
            message_ref = COALESCE(transcripts.message_ref, excluded.message_ref),
            user_id = COALESCE(transcripts.user_id, excluded.user_id);
    `
	if _, err := s.db.NamedExecContext(ctx, query, tr); err != nil {
		s.logger.ErrorContext(ctx, "Error saving transcript", "file_hash", tr.FileHash, "error", err)
		return fmt.Errorf("failed to save transcript %s: %w", tr.FileHash, err)
	}

	s.logger.DebugContext(ctx, "Transcript saved", "file_hash", tr.FileHash, "provider", tr.Provider)
	return nil
}

func (s *sqlxStore) GetTranscript(ctx context.Context, fileHash string) (*Transcript, error) {
	if fileHash == "" {
		return nil, fmt.Errorf("file_hash cannot be empty")
	}

	var tr Transcript
	query := `SELECT id, file_hash, language, text, provider, message_ref, user_id, created_at
	          FROM transcripts WHERE file_hash = ?`

	err := s.db.GetContext(ctx, &tr, query, fileHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("transcript %s: %w", fileHash, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting transcript", "file_hash", fileHash, "error", err)
		return nil, fmt.Errorf("failed to get transcript %s: %w", fileHash, err)
	}

	return &tr, nil
}

func (s *sqlxStore) LinkTranscript(ctx context.Context, fileHash string, messageID int64, userID string) error {
	if fileHash == "" {
		return fmt.Errorf("file_hash cannot be empty")
	}
	if messageID == 0 {
		return fmt.Errorf("message id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for transcript link",
			"file_hash", fileHash, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	var tr Transcript
	err = tx.GetContext(ctx, &tr,
		`SELECT id, file_hash, message_ref FROM transcripts WHERE file_hash = ?`, fileHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("transcript %s: %w", fileHash, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error loading transcript for link",
			"file_hash", fileHash, "error", err)
		return fmt.Errorf("failed to load transcript %s: %w", fileHash, err)
	}

	if tr.MessageRef.Valid {
		if tr.MessageRef.Int64 == messageID {
			// Already linked to the same message; nothing to do.
			return tx.Commit()
		}
		return fmt.Errorf("transcript %s is linked to message %d: %w",
			fileHash, tr.MessageRef.Int64, ErrAlreadyLinked)
	}

	if err := s.checkMessageRef(ctx, tx, sql.NullInt64{Int64: messageID, Valid: true}); err != nil {
		return fmt.Errorf("transcript link reference check failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE transcripts SET message_ref = ?, user_id = ? WHERE id = ? AND message_ref IS NULL`,
		messageID, userID, tr.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error linking transcript",
			"file_hash", fileHash, "db_message_id", messageID, "error", err)
		return fmt.Errorf("failed to link transcript %s: %w", fileHash, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transcript link",
			"file_hash", fileHash, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Transcript linked",
		"file_hash", fileHash, "db_message_id", messageID, "user_id", userID)
	return nil
}

func (s *sqlxStore) ResolveMessage(ctx context.Context, externalID int64, chatID string) (*Message, error) {
	if externalID == 0 {
		return nil, fmt.Errorf("external message id cannot be zero")
	}
	if chatID == "" {
		return nil, fmt.Errorf("chat_id cannot be empty")
	}

	var msg Message
	query := `SELECT id, message_id, user_id, chat_id, kind, content,
	                 file_id, file_unique_id, filename, mime_type, created_at
	          FROM messages WHERE message_id = ? AND chat_id = ?`

	err := s.db.GetContext(ctx, &msg, query, externalID, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("message (external id %d, chat %s): %w", externalID, chatID, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error resolving message",
			"message_id", externalID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to resolve message (external id %d, chat %s): %w",
			externalID, chatID, err)
	}

	return &msg, nil
}

func (s *sqlxStore) GetMessageByID(ctx context.Context, id int64) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("message id cannot be zero")
	}

	var msg Message
	query := `SELECT id, message_id, user_id, chat_id, kind, content,
	                 file_id, file_unique_id, filename, mime_type, created_at
	          FROM messages WHERE id = ?`

	err := s.db.GetContext(ctx, &msg, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message by ID", "db_message_id", id, "error", err)
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}

	return &msg, nil
}

const defaultQueryLimit = 100

func (s *sqlxStore) GetUserMessages(ctx context.Context, userID string, limit int, before time.Time) ([]*Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
		s.logger.DebugContext(ctx, "No limit provided, using default",
			"user_id", userID, "default_limit", limit)
	}
	if before.IsZero() {
		// A far-future sentinel keeps the cursor condition from
		// excluding the newest rows on the first page.
		before = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	var messages []*Message
	query := `
        SELECT id, message_id, user_id, chat_id, kind, content,
               file_id, file_unique_id, filename, mime_type, created_at
        FROM messages
        WHERE user_id = ? AND created_at < ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, userID, before, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting user messages",
			"user_id", userID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get messages for user %s: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Fetched user messages", "user_id", userID, "count", len(messages))
	return messages, nil
}

func (s *sqlxStore) GetChatMessages(ctx context.Context, userID, chatID string, limit int) ([]*Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if chatID == "" {
		return nil, fmt.Errorf("chat_id cannot be empty")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var messages []*Message
	query := `
        SELECT id, message_id, user_id, chat_id, kind, content,
               file_id, file_unique_id, filename, mime_type, created_at
        FROM messages
        WHERE user_id = ? AND chat_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, userID, chatID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting chat messages",
			"user_id", userID, "chat_id", chatID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get messages for user %s in chat %s: %w", userID, chatID, err)
	}

	return messages, nil
}

func (s *sqlxStore) ListResponsesForMessages(ctx context.Context, messageIDs []int64) ([]*Response, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        SELECT id, message_ref, user_id, chat_id, kind, content, created_at
        FROM responses
        WHERE message_ref IN (?)
        ORDER BY created_at ASC, id ASC;`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build responses query: %w", err)
	}

	var responses []*Response
	query = s.db.Rebind(query)
	if err := s.db.SelectContext(ctx, &responses, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing responses for messages", "error", err)
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}

	return responses, nil
}

func (s *sqlxStore) ListEventsForMessages(ctx context.Context, messageIDs []int64) ([]*Event, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        SELECT id, message_ref, user_id, kind, details, created_at
        FROM events
        WHERE message_ref IN (?)
        ORDER BY created_at ASC, id ASC;`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build events query: %w", err)
	}

	var events []*Event
	query = s.db.Rebind(query)
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing events for messages", "error", err)
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

func (s *sqlxStore) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var settings UserSettings
	query := `SELECT user_id, provider, language, mode FROM user_settings WHERE user_id = ?`

	err := s.db.GetContext(ctx, &settings, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user settings found", "user_id", userID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user settings", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get settings for user %s: %w", userID, err)
	}

	return &settings, nil
}

func (s *sqlxStore) UpsertUserSettings(ctx context.Context, settings *UserSettings) error {
	if settings == nil {
		return fmt.Errorf("cannot save nil user settings")
	}
	if settings.UserID == "" {
		return fmt.Errorf("user settings must have a non-empty user_id")
	}

	query := `
        INSERT INTO user_settings (user_id, provider, language, mode)
        VALUES (:user_id, :provider, :language, :mode)
        ON CONFLICT (user_id) DO UPDATE SET
            provider = COALESCE(excluded.provider, user_settings.provider),
            language = COALESCE(excluded.language, user_settings.language),
            mode = COALESCE(excluded.mode, user_settings.mode);
    `
	if _, err := s.db.NamedExecContext(ctx, query, settings); err != nil {
		s.logger.ErrorContext(ctx, "Error saving user settings", "user_id", settings.UserID, "error", err)
		return fmt.Errorf("failed to save settings for user %s: %w", settings.UserID, err)
	}

	s.logger.DebugContext(ctx, "User settings saved", "user_id", settings.UserID)
	return nil
}

func (s *sqlxStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for retention prune", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	var total int64

	// Dependents go first so no response or event is left pointing at a
	// pruned message, even when it was written after the cutoff.
	for _, query := range []string{
		`DELETE FROM responses WHERE created_at < ?
		     OR message_ref IN (SELECT id FROM messages WHERE created_at < ?)`,
		`DELETE FROM events WHERE created_at < ?
		     OR message_ref IN (SELECT id FROM messages WHERE created_at < ?)`,
	} {
		result, err := tx.ExecContext(ctx, query, cutoff, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error pruning dependent rows", "error", err)
			return 0, fmt.Errorf("failed to prune dependent rows: %w", err)
		}
		count, _ := result.RowsAffected()
		total += count
	}

	// Transcripts outlive retention; their links to pruned messages are
	// detached, leaving orphan transcripts.
	_, err = tx.ExecContext(ctx,
		`UPDATE transcripts SET message_ref = NULL
		     WHERE message_ref IN (SELECT id FROM messages WHERE created_at < ?)`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error detaching transcript links during prune", "error", err)
		return 0, fmt.Errorf("failed to detach transcript links: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning messages", "error", err)
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	count, _ := result.RowsAffected()
	total += count

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit retention prune", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Retention prune completed", "cutoff", cutoff, "rows_removed", total)
	return total, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

// rollback is deferred after BeginTxx; it is a no-op once the
// transaction has been committed.
func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}
