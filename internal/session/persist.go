package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/store"
)

// Storage keys. They match the keys used by the browser widget so a
// transcript can move between the two.
const (
	MessagesKey     = "chatbot-messages"
	ConversationKey = "chatbot-conversation-id"
)

var (
	errEmptyLog    = errors.New("empty log")
	errDuplicateID = errors.New("duplicate message id")
	errUnknownRole = errors.New("unknown role")
	errMissingID   = errors.New("message without id")
)

// LoadTranscript reads a persisted transcript. found is false when nothing
// was stored. A present but unusable log yields a *PersistenceError.
func LoadTranscript(ctx context.Context, s store.Store) (msgs []domain.Message, found bool, err error) {
	raw, err := s.Get(ctx, MessagesKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: OpReadCorrupt, Key: MessagesKey, Err: err}
	}

	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, true, &PersistenceError{Op: OpReadCorrupt, Key: MessagesKey, Err: err}
	}
	if err := validateLog(msgs); err != nil {
		return nil, true, &PersistenceError{Op: OpReadCorrupt, Key: MessagesKey, Err: err}
	}
	return msgs, true, nil
}

// LoadConversationID reads the continuation token. Missing or unreadable
// tokens yield "".
func LoadConversationID(ctx context.Context, s store.Store) (string, error) {
	raw, err := s.Get(ctx, ConversationKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &PersistenceError{Op: OpReadCorrupt, Key: ConversationKey, Err: err}
	}
	return string(raw), nil
}

// Clear deletes a persisted session.
func Clear(ctx context.Context, s store.Store) error {
	if err := s.Delete(ctx, MessagesKey, ConversationKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func validateLog(msgs []domain.Message) error {
	if len(msgs) == 0 {
		return errEmptyLog
	}
	seen := make(map[string]struct{}, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("%w at index %d", errMissingID, i)
		}
		if !m.Role.Valid() {
			return fmt.Errorf("%w %q at index %d", errUnknownRole, m.Role, i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w %q", errDuplicateID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

func saveTranscript(ctx context.Context, s store.Store, msgs []domain.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return &PersistenceError{Op: OpWriteFailed, Key: MessagesKey, Err: err}
	}
	if err := s.Set(ctx, MessagesKey, data); err != nil {
		return &PersistenceError{Op: OpWriteFailed, Key: MessagesKey, Err: err}
	}
	return nil
}

func saveConversationID(ctx context.Context, s store.Store, id string) error {
	if err := s.Set(ctx, ConversationKey, []byte(id)); err != nil {
		return &PersistenceError{Op: OpWriteFailed, Key: ConversationKey, Err: err}
	}
	return nil
}
