// Package audit implements the interaction-audit core: the identity
// keyer, the capture interceptor that persists every inbound message
// before business logic runs, and the history reader that reconstructs
// per-user timelines from the record store.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/chatscribe/internal/database"
)

// NaturalKey is the externally-meaningful uniqueness constraint of an
// inbound message: the transport's message id scoped by chat. Redelivery
// of the same key is the same message, never a new one.
type NaturalKey struct {
	ExternalID int64
	ChatID     string
}

// Validate reports whether the key can identify a message.
func (k NaturalKey) Validate() error {
	if k.ExternalID == 0 {
		return fmt.Errorf("natural key must have a non-zero external message id")
	}
	if k.ChatID == "" {
		return fmt.Errorf("natural key must have a non-empty chat id")
	}
	return nil
}

// Handle identifies a captured message. It is passed explicitly to every
// call that may produce a response or event, never smuggled through
// context values.
type Handle struct {
	MessageID int64
	UserID    string
	ChatID    string
}

// HandleFor builds the correlation handle for a stored message.
func HandleFor(msg *database.Message) Handle {
	return Handle{
		MessageID: msg.ID,
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
	}
}

// Keyer resolves natural keys to correlation handles. It performs one
// store lookup and has no other side effects.
type Keyer struct {
	store database.Store
}

// NewKeyer creates a keyer over the given store.
func NewKeyer(store database.Store) *Keyer {
	return &Keyer{store: store}
}

// Resolve looks up the captured message for a natural key and returns
// its correlation handle. Returns database.ErrNotFound (wrapped) when
// the message was never captured.
func (k *Keyer) Resolve(ctx context.Context, externalID int64, chatID string) (Handle, error) {
	key := NaturalKey{ExternalID: externalID, ChatID: chatID}
	if err := key.Validate(); err != nil {
		return Handle{}, err
	}

	msg, err := k.store.ResolveMessage(ctx, externalID, chatID)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to resolve handle: %w", err)
	}
	return HandleFor(msg), nil
}

// Classify determines the message kind for an inbound unit. Command
// detection takes precedence: text starting with the command prefix is a
// command regardless of attached media. Otherwise media kind wins over
// plain text.
func Classify(in Inbound) string {
	if strings.HasPrefix(in.Text, "/") {
		return database.MessageKindCommand
	}
	if in.MediaKind != "" {
		return in.MediaKind
	}
	if in.Text != "" {
		return database.MessageKindText
	}
	return database.MessageKindOther
}
