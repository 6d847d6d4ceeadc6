package events

import (
	"time"

	"teamline/internal/domain"
)

// Event type constants. These are the wire names exchanged over the socket;
// the server fans every event out to all channels the user belongs to.
const (
	TypeClientInit EventType = "client:init"

	TypeMessageSend     EventType = "message:send"
	TypeMessageReceived EventType = "message:received"
	TypeMessageEdited   EventType = "message:edited"
	TypeMessageDeleted  EventType = "message:deleted"
	TypeMessagePinned   EventType = "message:pinned"

	TypeReactionAdded   EventType = "reaction:added"
	TypeReactionRemoved EventType = "reaction:removed"

	TypeTypingUpdate    EventType = "typing:update"
	TypePresenceUpdated EventType = "presence:updated"

	TypeChannelNew     EventType = "channel:new"
	TypeChannelUpdated EventType = "channel:updated"
	TypeChannelDeleted EventType = "channel:deleted"
)

type EventType string

// Event is implemented by every typed socket payload.
type Event interface {
	EventType() EventType
}

// ClientInit is emitted by a client right after connecting so the server
// subscribes it to every channel it belongs to.
type ClientInit struct {
	UserID string `json:"user_id"`
}

func (ClientInit) EventType() EventType { return TypeClientInit }

// MessageSend is the client->server broadcast intent for an already-persisted
// message.
type MessageSend struct {
	Message domain.Message `json:"message"`
}

func (MessageSend) EventType() EventType { return TypeMessageSend }

type MessageReceived struct {
	Message domain.Message `json:"message"`
}

func (MessageReceived) EventType() EventType { return TypeMessageReceived }

type MessageEdited struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	Body      string    `json:"body"`
	EditedAt  time.Time `json:"edited_at"`
}

func (MessageEdited) EventType() EventType { return TypeMessageEdited }

type MessageDeleted struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

func (MessageDeleted) EventType() EventType { return TypeMessageDeleted }

type MessagePinned struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Pinned    bool   `json:"pinned"`
}

func (MessagePinned) EventType() EventType { return TypeMessagePinned }

type ReactionAdded struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

func (ReactionAdded) EventType() EventType { return TypeReactionAdded }

type ReactionRemoved struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

func (ReactionRemoved) EventType() EventType { return TypeReactionRemoved }

type TypingUpdate struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Typing    bool   `json:"typing"`
}

func (TypingUpdate) EventType() EventType { return TypeTypingUpdate }

type PresenceUpdated struct {
	Presence domain.Presence `json:"presence"`
}

func (PresenceUpdated) EventType() EventType { return TypePresenceUpdated }

type ChannelNew struct {
	Channel domain.Channel `json:"channel"`
}

func (ChannelNew) EventType() EventType { return TypeChannelNew }

type ChannelUpdated struct {
	Channel domain.Channel `json:"channel"`
}

func (ChannelUpdated) EventType() EventType { return TypeChannelUpdated }

type ChannelDeleted struct {
	ChannelID string `json:"channel_id"`
}

func (ChannelDeleted) EventType() EventType { return TypeChannelDeleted }
