package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamline/internal/api"
	"teamline/internal/domain"
	"teamline/internal/events"
	tlerrors "teamline/pkg/errors"
	"teamline/pkg/logger"
)

// Server is the reference backend: the REST API and socket contract the
// client runtime is written against, with in-memory persistence. It exists
// for local development and integration tests, not production.
type Server struct {
	store    *Store
	auth     *Authenticator
	hub      *Hub
	fanout   Fanout
	uploader Uploader
	log      *logger.Logger
	engine   *gin.Engine

	// BaseURL is set once the listener is known; memory upload tickets
	// point back at it.
	BaseURL string
}

type ServerOptions struct {
	JWTSecret string
	JWTExpiry time.Duration
	Fanout    Fanout // nil = local hub delivery
	Uploader  Uploader
	Logger    *logger.Logger
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	store := NewStore()
	hub := NewHub()
	s := &Server{
		store: store,
		auth:  NewAuthenticator(opts.JWTSecret, opts.JWTExpiry, store),
		hub:   hub,
		log:   opts.Logger,
	}
	if opts.Fanout != nil {
		s.fanout = opts.Fanout
	} else {
		s.fanout = NewLocalFanout(hub)
	}
	if opts.Uploader != nil {
		s.uploader = opts.Uploader
	} else {
		s.uploader = NewMemoryUploader(func() string { return s.BaseURL }, store)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Store() *Store { return s.store }
func (s *Server) Hub() *Hub     { return s.hub }

// SetFanout swaps the delivery path, e.g. onto a redis bridge once the
// redis client is up.
func (s *Server) SetFanout(f Fanout) { s.fanout = f }

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/auth/register", s.handleRegister)
	r.POST("/auth/login", s.handleLogin)
	r.GET("/ws", s.handleSocket)
	r.PUT("/uploads/raw/*key", s.handleRawUpload)
	r.GET("/uploads/raw/*key", s.handleRawDownload)

	authed := r.Group("/", s.authMiddleware())
	{
		authed.GET("/channels", s.handleListChannels)
		authed.POST("/channels", s.handleCreateChannel)
		authed.POST("/direct", s.handleDirectChannel)
		authed.GET("/channels/:id/messages", s.handleListMessages)
		authed.POST("/channels/:id/read", s.handleMarkRead)
		authed.POST("/channels/:id/star", s.handleStar)
		authed.GET("/channels/:id/star", s.handleGetStar)
		authed.POST("/channels/:id/archive", s.handleArchive)
		authed.POST("/channels/:id/mute", s.handleMute)
		authed.GET("/user/mutes", s.handleMutes)
		authed.PUT("/user/presence", s.handlePresence)
		authed.POST("/messages", s.handleSendMessage)
		authed.PUT("/messages/:id", s.handleEditMessage)
		authed.DELETE("/messages/:id", s.handleDeleteMessage)
		authed.POST("/messages/:id/reactions", s.handleAddReaction)
		authed.DELETE("/messages/:id/reactions", s.handleRemoveReaction)
		authed.POST("/messages/:id/pin", s.handlePin)
		authed.POST("/uploads", s.handleCreateUpload)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := context.WithValue(c.Request.Context(), logger.RequestIdKey, uuid.New().String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		// Re-read the request context: authMiddleware stamps the user id
		// into it downstream.
		s.log.WithContext(c.Request.Context()).Sugar().Infof(
			"%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

const ctxUserKey = "user"

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		user, err := s.auth.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			return
		}
		c.Set(ctxUserKey, user)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.UserIdKey, user.ID))
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.Get(ctxUserKey)
	user, _ := u.(domain.User)
	return user
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, tlerrors.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, tlerrors.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, tlerrors.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, tlerrors.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, tlerrors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	}
	c.JSON(status, api.NewErrorResponse(err.Error(), code))
}

// broadcast wraps an event and delivers it to the given users.
func (s *Server) broadcast(ctx context.Context, userIDs []string, ev events.Event) {
	data, err := events.Marshal(ev, time.Now())
	if err != nil {
		s.log.Errorf("marshal %s: %v", ev.EventType(), err)
		return
	}
	s.fanout.Deliver(ctx, userIDs, data)
}

// --- Auth handlers ---

func (s *Server) handleRegister(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	user, token, err := s.auth.Register(req.Name, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(api.AuthResult{Token: token, User: user}))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	user, token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(api.AuthResult{Token: token, User: user}))
}

// --- Channel handlers ---

func (s *Server) handleListChannels(c *gin.Context) {
	user := currentUser(c)
	records := s.store.ChannelsFor(user.ID)
	if records == nil {
		records = []api.ChannelRecord{}
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(records))
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	user := currentUser(c)
	var req api.CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	if req.Kind == "" {
		req.Kind = domain.ChannelKindGroup
	}

	members := []domain.Member{{UserID: user.ID, Name: user.Name, Role: domain.MemberRoleAdmin}}
	for _, id := range req.Members {
		if id == user.ID {
			continue
		}
		u, err := s.store.User(id)
		if err != nil {
			continue
		}
		members = append(members, domain.Member{UserID: u.ID, Name: u.Name, Role: domain.MemberRoleMember})
	}

	ch := s.store.CreateChannel(req.Kind, req.Name, members)
	s.broadcast(c.Request.Context(), s.store.MemberIDs(ch.ID), events.ChannelNew{Channel: ch})
	c.JSON(http.StatusOK, api.NewSuccessResponse(ch))
}

func (s *Server) handleDirectChannel(c *gin.Context) {
	user := currentUser(c)
	var req api.DirectChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	other, err := s.store.User(req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ch, created := s.store.DirectChannel(user, other)
	if created {
		s.broadcast(c.Request.Context(), s.store.MemberIDs(ch.ID), events.ChannelNew{Channel: ch})
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(ch))
}

func (s *Server) handleMarkRead(c *gin.Context) {
	user := currentUser(c)
	s.store.MarkRead(user.ID, c.Param("id"))
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handleStar(c *gin.Context) {
	user := currentUser(c)
	var req struct {
		Starred bool `json:"starred"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	s.store.SetStarred(user.ID, c.Param("id"), req.Starred)
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handleGetStar(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, api.NewSuccessResponse(s.store.Starred(user.ID, c.Param("id"))))
}

func (s *Server) handleArchive(c *gin.Context) {
	ch, err := s.store.Channel(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	members := s.store.MemberIDs(ch.ID)
	ch.Archived = true
	s.store.UpdateChannel(ch)
	s.broadcast(c.Request.Context(), members, events.ChannelDeleted{ChannelID: ch.ID})
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handleMute(c *gin.Context) {
	user := currentUser(c)
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	s.store.SetMuted(user.ID, c.Param("id"), req.Muted)
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handleMutes(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, api.NewSuccessResponse(s.store.MutedChannels(user.ID)))
}

// --- Message handlers ---

func (s *Server) handleListMessages(c *gin.Context) {
	channelID := c.Param("id")
	user := currentUser(c)
	ch, err := s.store.Channel(channelID)
	if err != nil {
		fail(c, err)
		return
	}
	if !ch.HasMember(user.ID) {
		fail(c, tlerrors.ErrForbidden)
		return
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			fail(c, tlerrors.ErrInvalidInput)
			return
		}
		before = parsed
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			fail(c, tlerrors.ErrInvalidInput)
			return
		}
		limit = parsed
	}

	page := s.store.Page(channelID, before, limit)
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(page))
}

func (s *Server) handleSendMessage(c *gin.Context) {
	user := currentUser(c)
	var req api.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelID == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	ch, err := s.store.Channel(req.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	if !ch.HasMember(user.ID) {
		fail(c, tlerrors.ErrForbidden)
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.MessageKindText
	}

	msg := s.store.AppendMessage(domain.Message{
		ChannelID:   req.ChannelID,
		SenderID:    user.ID,
		SenderName:  user.Name,
		Body:        req.Body,
		Kind:        kind,
		Ref:         req.Ref,
		Attachments: req.Attachments,
	})
	// Echo to every member including the sender; the client's id-based
	// reconciliation collapses the echo with its optimistic copy.
	s.broadcast(c.Request.Context(), s.store.MemberIDs(msg.ChannelID), events.MessageReceived{Message: msg})
	c.JSON(http.StatusOK, api.NewSuccessResponse(msg))
}

func (s *Server) handleEditMessage(c *gin.Context) {
	user := currentUser(c)
	msg, err := s.store.Message(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if msg.SenderID != user.ID {
		fail(c, tlerrors.ErrForbidden)
		return
	}
	var req api.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}

	now := time.Now().UTC()
	msg.Body = req.Body
	msg.Edited = true
	msg.EditedAt = &now
	if err := s.store.UpdateMessage(msg); err != nil {
		fail(c, err)
		return
	}
	s.broadcast(c.Request.Context(), s.store.MemberIDs(msg.ChannelID), events.MessageEdited{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		Body:      msg.Body,
		EditedAt:  now,
	})
	c.JSON(http.StatusOK, api.NewSuccessResponse(msg))
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	user := currentUser(c)
	msg, err := s.store.Message(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if msg.SenderID != user.ID {
		fail(c, tlerrors.ErrForbidden)
		return
	}
	if _, err := s.store.DeleteMessage(msg.ID); err != nil {
		fail(c, err)
		return
	}
	s.broadcast(c.Request.Context(), s.store.MemberIDs(msg.ChannelID), events.MessageDeleted{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
	})
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handleAddReaction(c *gin.Context) {
	s.handleReaction(c, true)
}

func (s *Server) handleRemoveReaction(c *gin.Context) {
	s.handleReaction(c, false)
}

func (s *Server) handleReaction(c *gin.Context, add bool) {
	user := currentUser(c)
	msg, err := s.store.Message(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var req api.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}

	if add {
		msg.AddReaction(req.Emoji, user.ID)
	} else {
		msg.RemoveReaction(req.Emoji, user.ID)
	}
	if err := s.store.UpdateMessage(msg); err != nil {
		fail(c, err)
		return
	}

	var ev events.Event
	if add {
		ev = events.ReactionAdded{MessageID: msg.ID, ChannelID: msg.ChannelID, UserID: user.ID, Emoji: req.Emoji}
	} else {
		ev = events.ReactionRemoved{MessageID: msg.ID, ChannelID: msg.ChannelID, UserID: user.ID, Emoji: req.Emoji}
	}
	s.broadcast(c.Request.Context(), s.store.MemberIDs(msg.ChannelID), ev)
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

func (s *Server) handlePin(c *gin.Context) {
	msg, err := s.store.Message(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var req api.PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	msg.Pinned = req.Pinned
	if err := s.store.UpdateMessage(msg); err != nil {
		fail(c, err)
		return
	}
	s.broadcast(c.Request.Context(), s.store.MemberIDs(msg.ChannelID), events.MessagePinned{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		Pinned:    req.Pinned,
	})
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

// --- Presence ---

func (s *Server) handlePresence(c *gin.Context) {
	user := currentUser(c)
	var req api.PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.State == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	now := time.Now().UTC()
	p := domain.Presence{
		UserID:     user.ID,
		State:      req.State,
		Custom:     req.Custom,
		LastActive: now,
		UpdatedAt:  now,
	}
	s.store.SetPresence(p)
	s.broadcast(c.Request.Context(), s.store.AllUserIDs(), events.PresenceUpdated{Presence: p})
	c.JSON(http.StatusOK, api.NewSuccessResponse(struct{}{}))
}

// --- Uploads ---

func (s *Server) handleCreateUpload(c *gin.Context) {
	var req api.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FileName == "" {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	ticket, err := s.uploader.Ticket(c.Request.Context(), req.FileName, req.ContentType, req.SizeBytes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewSuccessResponse(ticket))
}

func (s *Server) handleRawUpload(c *gin.Context) {
	key := c.Param("key")
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, tlerrors.ErrInvalidInput)
		return
	}
	s.store.PutUpload(key, data)
	c.Status(http.StatusOK)
}

func (s *Server) handleRawDownload(c *gin.Context) {
	data, ok := s.store.GetUpload(c.Param("key"))
	if !ok {
		fail(c, tlerrors.ErrNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
