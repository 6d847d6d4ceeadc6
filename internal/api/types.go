package api

import (
	"teamline/internal/domain"
)

// Response is the envelope every REST endpoint answers with.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{Success: false, Error: err, Code: code}
}

// ChannelRecord is a channel plus the server-side unread counter for the
// requesting user.
type ChannelRecord struct {
	domain.Channel
	Unread int `json:"unread"`
}

// MessagesPage is one page of channel history plus the pinned subset.
type MessagesPage struct {
	Messages []domain.Message `json:"messages"`
	Pinned   []domain.Message `json:"pinned"`
	HasMore  bool             `json:"has_more"`
}

type SendMessageRequest struct {
	ChannelID   string              `json:"channel_id"`
	Body        string              `json:"body"`
	Kind        domain.MessageKind  `json:"kind"`
	Ref         *domain.Reference   `json:"ref,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type EditMessageRequest struct {
	Body string `json:"body"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type PinRequest struct {
	Pinned bool `json:"pinned"`
}

type CreateChannelRequest struct {
	Kind    domain.ChannelKind `json:"kind"`
	Name    string             `json:"name"`
	Members []string           `json:"members"`
}

type DirectChannelRequest struct {
	UserID string `json:"user_id"`
}

type PresenceRequest struct {
	State  domain.PresenceState `json:"state"`
	Custom *domain.CustomStatus `json:"custom,omitempty"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type UploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UploadTicket carries a presigned PUT target for an attachment.
type UploadTicket struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	PublicURL string            `json:"public_url,omitempty"`
}
