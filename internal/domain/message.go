package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url,omitempty"`
}

// Reference points at a structured entity (board element, tracked ticket)
// embedded in a message instead of plain text.
type Reference struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
	Edited     bool        `json:"edited"`
	EditedAt   *time.Time  `json:"edited_at,omitempty"`
	Pinned     bool        `json:"pinned"`
	// Reactions maps an emoji code to the set of reacting user ids.
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Ref         *Reference          `json:"ref,omitempty"`
}

// AddReaction records a user's reaction. Adding the same reaction twice is a
// no-op.
func (m *Message) AddReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return
		}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}

func (m *Message) RemoveReaction(emoji, userID string) {
	users := m.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			m.Reactions[emoji] = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(m.Reactions[emoji]) == 0 {
		delete(m.Reactions, emoji)
	}
}

// Truncate caps s at limit characters, appending an ellipsis when it cuts.
// The limit counts runes, not bytes, so the cut never splits a multi-byte
// character.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit])) + "…"
}

// Preview truncates the message into a channel last-message summary.
func (m Message) Preview(limit int) MessagePreview {
	body := Truncate(m.Body, limit)
	return MessagePreview{
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       body,
		Kind:       m.Kind,
		SentAt:     m.CreatedAt,
	}
}
