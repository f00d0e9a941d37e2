// Package domain contains core domain types for the Mentor chat client.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// TimeLayout is the display format used for message timestamps.
const TimeLayout = "3:04:05 PM"

// Citation is a reference link attached to an assistant reply.
type Citation struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Message is a single transcript entry. Messages are immutable once appended;
// use Clone when handing one out of a lock.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Time      string     `json:"time"`
	Citations []Citation `json:"citations,omitempty"`
	FollowUps []string   `json:"followUpPrompts,omitempty"`
	Error     bool       `json:"error,omitempty"`
}

// NewMessage creates a message stamped with the display time of now.
func NewMessage(id string, role Role, content string, now time.Time) Message {
	return Message{
		ID:      id,
		Role:    role,
		Content: content,
		Time:    now.Format(TimeLayout),
	}
}

// UnmarshalJSON accepts numeric ids as well as strings; the browser widget
// stamps messages with Date.now().
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		ID json.RawMessage `json:"id"`
		*Alias
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		m.ID = ""
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		m.ID = n.String()
	}
	return nil
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Citations = slices.Clone(m.Citations)
	m.FollowUps = slices.Clone(m.FollowUps)
	return m
}

// HasFollowUps returns true if the message offers suggested prompts.
func (m Message) HasFollowUps() bool {
	return len(m.FollowUps) > 0
}

// CloneMessages deep-copies a transcript.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
