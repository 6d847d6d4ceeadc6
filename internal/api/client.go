package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"teamline/internal/domain"
	tlerrors "teamline/pkg/errors"
	"teamline/pkg/logger"
)

// TokenSource supplies the current user identity and bearer credential.
// An empty token means "not authenticated": calls are skipped locally
// instead of attempted.
type TokenSource interface {
	Token() string
	UserID() string
}

// StaticToken is a TokenSource with fixed values, used after login and in
// tests.
type StaticToken struct {
	User   string
	Bearer string
}

func (s StaticToken) Token() string  { return s.Bearer }
func (s StaticToken) UserID() string { return s.User }

// Client is the REST client for the teamline backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *logger.Logger
}

func NewClient(baseURL string, tokens TokenSource, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		log:     log,
	}
}

// SetTokenSource swaps the credential source, used after login.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

func (c *Client) UserID() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.UserID()
}

// --- Auth ---

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	return do[AuthResult](c, ctx, http.MethodPost, "/auth/register", req, false)
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	return do[AuthResult](c, ctx, http.MethodPost, "/auth/login", req, false)
}

// --- Channels ---

func (c *Client) ListChannels(ctx context.Context) ([]ChannelRecord, error) {
	return do[[]ChannelRecord](c, ctx, http.MethodGet, "/channels", nil, true)
}

func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (domain.Channel, error) {
	return do[domain.Channel](c, ctx, http.MethodPost, "/channels", req, true)
}

// DirectChannel returns the direct channel with the given user, creating it
// if it does not exist yet.
func (c *Client) DirectChannel(ctx context.Context, userID string) (domain.Channel, error) {
	return do[domain.Channel](c, ctx, http.MethodPost, "/direct", DirectChannelRequest{UserID: userID}, true)
}

func (c *Client) MarkRead(ctx context.Context, channelID string) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/read", nil, true)
	return err
}

func (c *Client) StarChannel(ctx context.Context, channelID string, starred bool) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/star",
		map[string]bool{"starred": starred}, true)
	return err
}

func (c *Client) ArchiveChannel(ctx context.Context, channelID string) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/archive", nil, true)
	return err
}

func (c *Client) MuteChannel(ctx context.Context, channelID string, muted bool) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/mute",
		map[string]bool{"muted": muted}, true)
	return err
}

// MutedChannels fetches the set of channel ids the user has muted. Fetched
// once per session; notification evaluation consults it read-only.
func (c *Client) MutedChannels(ctx context.Context) ([]string, error) {
	return do[[]string](c, ctx, http.MethodGet, "/user/mutes", nil, true)
}

// --- Messages ---

func (c *Client) GetMessages(ctx context.Context, channelID string, before time.Time, limit int) (MessagesPage, error) {
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return do[MessagesPage](c, ctx, http.MethodGet, path, nil, true)
}

func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (domain.Message, error) {
	return do[domain.Message](c, ctx, http.MethodPost, "/messages", req, true)
}

func (c *Client) EditMessage(ctx context.Context, messageID, body string) (domain.Message, error) {
	return do[domain.Message](c, ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID), EditMessageRequest{Body: body}, true)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := do[struct{}](c, ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, true)
	return err
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", ReactionRequest{Emoji: emoji}, true)
	return err
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	_, err := do[struct{}](c, ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID)+"/reactions", ReactionRequest{Emoji: emoji}, true)
	return err
}

func (c *Client) PinMessage(ctx context.Context, messageID string, pinned bool) error {
	_, err := do[struct{}](c, ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/pin", PinRequest{Pinned: pinned}, true)
	return err
}

// --- Presence ---

func (c *Client) UpdatePresence(ctx context.Context, state domain.PresenceState, custom *domain.CustomStatus) error {
	_, err := do[struct{}](c, ctx, http.MethodPut, "/user/presence", PresenceRequest{State: state, Custom: custom}, true)
	return err
}

// --- Uploads ---

func (c *Client) CreateUpload(ctx context.Context, req UploadRequest) (UploadTicket, error) {
	return do[UploadTicket](c, ctx, http.MethodPost, "/uploads", req, true)
}

// Upload puts the file body at the ticket's presigned URL.
func (c *Client) Upload(ctx context.Context, ticket UploadTicket, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.URL, body)
	if err != nil {
		return err
	}
	for k, v := range ticket.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload failed: status %d", resp.StatusCode)
	}
	return nil
}

// do issues one REST call and unwraps the response envelope. auth=true calls
// are short-circuited locally when no bearer credential is available.
func do[T any](c *Client, ctx context.Context, method, path string, body any, auth bool) (T, error) {
	var zero T

	var token string
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if auth && token == "" {
		c.log.Warnf("skipping %s %s: no credential", method, path)
		return zero, tlerrors.ErrNoCredential
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope Response[T]
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode >= 400 {
		err := statusError(resp.StatusCode)
		if decodeErr == nil && envelope.Error != "" {
			return zero, fmt.Errorf("%s %s: %s: %w", method, path, envelope.Error, err)
		}
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("%s %s: decode response: %w", method, path, decodeErr)
	}
	return envelope.Data, nil
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return tlerrors.ErrUnauthorized
	case http.StatusForbidden:
		return tlerrors.ErrForbidden
	case http.StatusNotFound:
		return tlerrors.ErrNotFound
	case http.StatusConflict:
		return tlerrors.ErrConflict
	case http.StatusBadRequest:
		return tlerrors.ErrInvalidInput
	default:
		return tlerrors.ErrUnavailable
	}
}
