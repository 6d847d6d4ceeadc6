package events

import (
	"encoding/json"
	"time"
)

// Envelope is the outer frame every socket message travels in.
type Envelope struct {
	EventType  EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Wrap encodes a typed event into an envelope ready for the wire.
func Wrap(ev Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:  ev.EventType(),
		OccurredAt: at.UTC(),
		Payload:    payload,
	}, nil
}

// Marshal wraps and serializes an event in one step.
func Marshal(ev Event, at time.Time) ([]byte, error) {
	env, err := Wrap(ev, at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
