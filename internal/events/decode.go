package events

import (
	"encoding/json"
	"fmt"
)

// Decode parses raw socket bytes into a typed event. Unknown event types and
// payloads missing required fields are rejected here so malformed input never
// reaches store-mutation code.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

func DecodeEnvelope(env Envelope) (Event, error) {
	if env.EventType == "" {
		return nil, fmt.Errorf("envelope missing event_type")
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%s: empty payload", env.EventType)
	}

	switch env.EventType {
	case TypeClientInit:
		var e ClientInit
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.UserID == "" {
			return nil, missing(env.EventType, "user_id")
		}
		return e, nil
	case TypeMessageSend:
		var e MessageSend
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.Message.ID == "" || e.Message.ChannelID == "" {
			return nil, missing(env.EventType, "message id/channel_id")
		}
		return e, nil
	case TypeMessageReceived:
		var e MessageReceived
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.Message.ID == "" || e.Message.ChannelID == "" {
			return nil, missing(env.EventType, "message id/channel_id")
		}
		return e, nil
	case TypeMessageEdited:
		var e MessageEdited
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.ChannelID == "" {
			return nil, missing(env.EventType, "message_id/channel_id")
		}
		return e, nil
	case TypeMessageDeleted:
		var e MessageDeleted
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.ChannelID == "" {
			return nil, missing(env.EventType, "message_id/channel_id")
		}
		return e, nil
	case TypeMessagePinned:
		var e MessagePinned
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.ChannelID == "" {
			return nil, missing(env.EventType, "message_id/channel_id")
		}
		return e, nil
	case TypeReactionAdded:
		var e ReactionAdded
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.Emoji == "" || e.UserID == "" {
			return nil, missing(env.EventType, "message_id/emoji/user_id")
		}
		return e, nil
	case TypeReactionRemoved:
		var e ReactionRemoved
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.Emoji == "" || e.UserID == "" {
			return nil, missing(env.EventType, "message_id/emoji/user_id")
		}
		return e, nil
	case TypeTypingUpdate:
		var e TypingUpdate
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.ChannelID == "" || e.UserID == "" {
			return nil, missing(env.EventType, "channel_id/user_id")
		}
		return e, nil
	case TypePresenceUpdated:
		var e PresenceUpdated
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.Presence.UserID == "" {
			return nil, missing(env.EventType, "presence.user_id")
		}
		return e, nil
	case TypeChannelNew:
		var e ChannelNew
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.Channel.ID == "" {
			return nil, missing(env.EventType, "channel.id")
		}
		return e, nil
	case TypeChannelUpdated:
		var e ChannelUpdated
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.Channel.ID == "" {
			return nil, missing(env.EventType, "channel.id")
		}
		return e, nil
	case TypeChannelDeleted:
		var e ChannelDeleted
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.ChannelID == "" {
			return nil, missing(env.EventType, "channel_id")
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.EventType)
}

func unmarshal(env Envelope, dst Event) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: %w", env.EventType, err)
	}
	return nil
}

func missing(t EventType, fields string) error {
	return fmt.Errorf("%s: missing %s", t, fields)
}
