package domain

import "time"

type Member struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name"`
	Role   MemberRole `json:"role"`
}

// MessagePreview is the truncated last-message summary carried on a channel.
type MessagePreview struct {
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	SentAt     time.Time   `json:"sent_at"`
}

type Channel struct {
	ID          string          `json:"id"`
	Kind        ChannelKind     `json:"kind"`
	Name        string          `json:"name"`
	Members     []Member        `json:"members"`
	Archived    bool            `json:"archived"`
	Muted       bool            `json:"muted"`
	Notify      NotifyLevel     `json:"notify"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DisplayName resolves the name shown for a channel. Direct channels have no
// name of their own and take the counterpart member's name.
func (c Channel) DisplayName(selfID string) string {
	if c.Kind != ChannelKindDirect {
		return c.Name
	}
	for _, m := range c.Members {
		if m.UserID != selfID {
			return m.Name
		}
	}
	return c.Name
}

// Counterpart returns the other member of a direct channel, if any.
func (c Channel) Counterpart(selfID string) (Member, bool) {
	if c.Kind != ChannelKindDirect {
		return Member{}, false
	}
	for _, m := range c.Members {
		if m.UserID != selfID {
			return m, true
		}
	}
	return Member{}, false
}

func (c Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
