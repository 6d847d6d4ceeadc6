package transport

import (
	"context"
	"time"

	"teamline/internal/events"
)

type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Adapter wraps the persistent bidirectional socket connection. It exposes
// connect state and a typed publish/subscribe surface; reconnection policy
// lives entirely in here, callers above never see the raw connection.
//
// Events are delivered one at a time from a single goroutine, so handlers
// observe a serial stream.
type Adapter interface {
	// Start connects and keeps the connection alive until ctx is done or
	// Close is called.
	Start(ctx context.Context) error
	Close() error
	// Publish sends a typed event to the server. Returns an error when the
	// connection is down; the event is not queued.
	Publish(ctx context.Context, ev events.Event) error
	// OnEvent registers the handler for inbound decoded events. Must be
	// called before Start.
	OnEvent(fn func(events.Event))
	// OnState registers the handler for connect/disconnect transitions.
	// Must be called before Start.
	OnState(fn func(State))
}

// Options tunes the websocket adapter.
type Options struct {
	// HandshakeTimeout bounds the dial; defaults to 10s.
	HandshakeTimeout time.Duration
	// ReconnectMin/Max bound the backoff between reconnect attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// PingInterval is how often keepalive pings go out.
	PingInterval time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		HandshakeTimeout: 10 * time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     30 * time.Second,
		PingInterval:     30 * time.Second,
	}
	if o == nil {
		return out
	}
	if o.HandshakeTimeout > 0 {
		out.HandshakeTimeout = o.HandshakeTimeout
	}
	if o.ReconnectMin > 0 {
		out.ReconnectMin = o.ReconnectMin
	}
	if o.ReconnectMax > 0 {
		out.ReconnectMax = o.ReconnectMax
	}
	if o.PingInterval > 0 {
		out.PingInterval = o.PingInterval
	}
	return out
}
