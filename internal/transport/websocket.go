package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teamline/internal/api"
	"teamline/internal/events"
	tlerrors "teamline/pkg/errors"
	"teamline/pkg/logger"
)

// WebsocketAdapter maintains one websocket connection to the server,
// reconnecting with capped backoff when it drops.
type WebsocketAdapter struct {
	endpoint string
	tokens   api.TokenSource
	opts     Options
	log      *logger.Logger

	onEvent func(events.Event)
	onState func(State)

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	cancel context.CancelFunc
}

// NewWebsocketAdapter builds an adapter for the given HTTP base URL; the
// socket endpoint is derived from it (http -> ws).
func NewWebsocketAdapter(baseURL string, tokens api.TokenSource, opts *Options, log *logger.Logger) *WebsocketAdapter {
	if log == nil {
		log = logger.NewNop()
	}
	endpoint := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	return &WebsocketAdapter{
		endpoint: endpoint,
		tokens:   tokens,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

func (a *WebsocketAdapter) OnEvent(fn func(events.Event)) { a.onEvent = fn }
func (a *WebsocketAdapter) OnState(fn func(State))        { a.onState = fn }

// Start runs the connect loop in a background goroutine. The first dial is
// attempted synchronously so callers learn immediately about a bad endpoint
// or missing credential.
func (a *WebsocketAdapter) Start(ctx context.Context) error {
	if a.tokens == nil || a.tokens.Token() == "" {
		return tlerrors.ErrNoCredential
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	conn, err := a.dial(runCtx)
	if err != nil {
		cancel()
		return err
	}
	go a.run(runCtx, conn)
	return nil
}

func (a *WebsocketAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	cancel := a.cancel
	conn := a.conn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (a *WebsocketAdapter) Publish(ctx context.Context, ev events.Event) error {
	data, err := events.Marshal(ev, time.Now())
	if err != nil {
		return err
	}
	a.mu.Lock()
	send := a.send
	a.mu.Unlock()
	if send == nil {
		return tlerrors.ErrNotConnected
	}
	select {
	case send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("outbound queue full: %w", tlerrors.ErrNotConnected)
	}
}

func (a *WebsocketAdapter) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", a.tokens.Token())
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: a.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.endpoint, err)
	}
	return conn, nil
}

// run owns the connection lifecycle: pump the current connection until it
// fails, then redial with backoff until ctx is cancelled.
func (a *WebsocketAdapter) run(ctx context.Context, conn *websocket.Conn) {
	backoff := a.opts.ReconnectMin
	for {
		if conn != nil {
			a.pump(ctx, conn)
			conn = nil
		}
		a.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.opts.ReconnectMax {
			backoff = a.opts.ReconnectMax
		}

		next, err := a.dial(ctx)
		if err != nil {
			a.log.Warnf("reconnect failed: %v", err)
			continue
		}
		backoff = a.opts.ReconnectMin
		conn = next
	}
}

// pump services one live connection: write loop in a goroutine, read loop
// inline. Returns when the connection dies.
func (a *WebsocketAdapter) pump(ctx context.Context, conn *websocket.Conn) {
	send := make(chan []byte, 256)
	a.mu.Lock()
	a.conn = conn
	a.send = send
	a.mu.Unlock()

	a.setState(StateConnected)

	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go a.writeLoop(writeCtx, conn, send)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		ev, err := events.Decode(data)
		if err != nil {
			a.log.Warnf("dropping event: %v", err)
			continue
		}
		if a.onEvent != nil {
			a.onEvent(ev)
		}
	}

	a.mu.Lock()
	a.conn = nil
	a.send = nil
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *WebsocketAdapter) writeLoop(ctx context.Context, conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(a.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *WebsocketAdapter) setState(s State) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed && s == StateConnected {
		return
	}
	if a.onState != nil {
		a.onState(s)
	}
}
