package database

import (
	"database/sql"
	"time"
)

// Message kinds assigned at capture time. Command detection takes
// precedence over media classification.
const (
	MessageKindCommand   = "command"
	MessageKindText      = "text"
	MessageKindVoice     = "voice"
	MessageKindAudio     = "audio"
	MessageKindVideo     = "video"
	MessageKindVideoNote = "video_note"
	MessageKindDocument  = "document"
	MessageKindPhoto     = "photo"
	MessageKindOther     = "other"
)

// Response kinds.
const (
	ResponseKindText       = "text"
	ResponseKindError      = "error"
	ResponseKindProcessing = "processing"
	ResponseKindInfo       = "info"
)

// Event kinds. The column is free-form text, so new kinds can be added
// without a migration.
const (
	EventCommandStart         = "command_start"
	EventCommandHelp          = "command_help"
	EventCommandSettings      = "command_settings"
	EventTranscriptionStart   = "transcription_start"
	EventTranscriptionSuccess = "transcription_success"
	EventTranscriptionError   = "transcription_error"
	EventError                = "error"
)

// Message is one captured inbound unit. The surrogate ID is generated by
// the store; (MessageID, ChatID) is the natural key that deduplicates
// retried deliveries. A Message row is written once and never mutated.
type Message struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	UserID    string    `db:"user_id"`
	ChatID    string    `db:"chat_id"`
	Kind      string    `db:"kind"`
	CreatedAt time.Time `db:"created_at"`

	Content      sql.NullString `db:"content"`
	FileID       sql.NullString `db:"file_id"`
	FileUniqueID sql.NullString `db:"file_unique_id"`
	Filename     sql.NullString `db:"filename"`
	MimeType     sql.NullString `db:"mime_type"`
}

// Response is one outbound reply the bot produced. MessageRef points at
// the Message that triggered it and is null for proactive sends.
type Response struct {
	ID         int64         `db:"id"`
	MessageRef sql.NullInt64 `db:"message_ref"`
	UserID     string        `db:"user_id"`
	ChatID     string        `db:"chat_id"`
	Kind       string        `db:"kind"`
	Content    string        `db:"content"`
	CreatedAt  time.Time     `db:"created_at"`
}

// Event is one append-only lifecycle record. Details is an opaque blob
// (handlers marshal JSON into it); the store never inspects it.
type Event struct {
	ID         int64          `db:"id"`
	MessageRef sql.NullInt64  `db:"message_ref"`
	UserID     string         `db:"user_id"`
	Kind       string         `db:"kind"`
	Details    sql.NullString `db:"details"`
	CreatedAt  time.Time      `db:"created_at"`
}

// Transcript is a transcription result keyed by content hash. The
// message_ref/user_id columns are filled once, when a capture handle is
// available, and are immutable afterwards.
type Transcript struct {
	ID         int64          `db:"id"`
	FileHash   string         `db:"file_hash"`
	Language   sql.NullString `db:"language"`
	Text       string         `db:"text"`
	Provider   string         `db:"provider"`
	MessageRef sql.NullInt64  `db:"message_ref"`
	UserID     sql.NullString `db:"user_id"`
	CreatedAt  time.Time      `db:"created_at"`
}

// UserSettings holds per-user transcription preferences. Unset fields
// keep their previous value on upsert.
type UserSettings struct {
	UserID   string         `db:"user_id"`
	Provider sql.NullString `db:"provider"`
	Language sql.NullString `db:"language"`
	Mode     sql.NullString `db:"mode"`
}
