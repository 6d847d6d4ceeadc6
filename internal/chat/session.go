package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"teamline/internal/api"
	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/transport"
	tlerrors "teamline/pkg/errors"
	"teamline/pkg/logger"
)

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateFetchingChannels
	stateReady
	stateClosed
)

const previewLimit = 80

// Options tunes a Session.
type Options struct {
	// IdleThreshold is how long without a tracked interaction before the
	// user's presence decays from active to away. Default 10 minutes.
	IdleThreshold time.Duration
	// IdlePoll is the interval of the background timer that checks idleness
	// and sweeps expired typing indicators. Default 30 seconds.
	IdlePoll time.Duration
	// TypingExpiry is how long a typing indicator lives without renewal.
	TypingExpiry time.Duration
	// PageSize is the history page size for message loads.
	PageSize int
	// Now injects a clock for tests.
	Now func() time.Time
	// Logger defaults to a nop logger.
	Logger *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = 10 * time.Minute
	}
	if o.IdlePoll <= 0 {
		o.IdlePoll = 30 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 10 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// Session is the one cohesive surface the UI talks to. It owns the channel
// directory, message caches, presence tracker, unread ledger and notification
// dispatcher, and it is the only writer to any of them: UI code reads
// snapshots and calls methods here. All mutation, whether from REST
// responses, socket events or timers, funnels through a single mutex, so
// concurrency reduces to the interleaving of independently arriving events.
type Session struct {
	api      *api.Client
	tr       transport.Adapter
	notifier Notifier
	store    StateStore
	opts     Options
	log      *logger.Logger
	self     domain.User

	mu         sync.Mutex
	state      sessionState
	dir        *channelDirectory
	msgs       *messageStore
	pres       *presenceTracker
	unread     *unreadLedger
	dispatcher *Dispatcher
	typing     map[string]map[string]time.Time
	connected  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSession wires a session for an authenticated user. Nothing happens
// until Start.
func NewSession(apiClient *api.Client, tr transport.Adapter, notifier Notifier, store StateStore, self domain.User, opts Options) *Session {
	opts = opts.withDefaults()
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Session{
		api:      apiClient,
		tr:       tr,
		notifier: notifier,
		store:    store,
		opts:     opts,
		log:      opts.Logger,
		self:     self,
		dir:      newChannelDirectory(),
		msgs:     newMessageStore(),
		pres:     newPresenceTracker(self.ID, opts.IdleThreshold, opts.Now),
		unread:   newUnreadLedger(),
		typing:   make(map[string]map[string]time.Time),
		stop:     make(chan struct{}),
	}
}

// Start fetches the channel list and mute set, restores the active channel,
// and brings up the socket. Guarded so a second call is an error rather than
// a re-initialization.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return tlerrors.ErrClosed
	}
	if s.state != stateUninitialized {
		s.mu.Unlock()
		return tlerrors.ErrAlreadyStarted
	}
	s.state = stateFetchingChannels
	s.mu.Unlock()

	records, err := s.api.ListChannels(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = stateUninitialized
		s.mu.Unlock()
		return fmt.Errorf("fetch channels: %w", err)
	}

	muted, err := s.api.MutedChannels(ctx)
	if err != nil {
		s.log.Warnf("mute set unavailable, notifications unmuted: %v", err)
		muted = nil
	}

	s.mu.Lock()
	s.dir.replaceAll(records)
	for _, r := range records {
		s.unread.set(r.ID, r.Unread)
	}
	s.dispatcher = NewDispatcher(s.self, muted)
	active := s.dir.restoreActive(s.store.ActiveChannel())
	if active != "" {
		s.unread.markRead(active)
		s.store.SetActiveChannel(active)
	}
	s.pres.setSelf(domain.PresenceActive, nil)
	s.mu.Unlock()

	if s.tr != nil {
		s.tr.OnEvent(s.handleEvent)
		s.tr.OnState(s.handleState)
		if err := s.tr.Start(ctx); err != nil {
			s.mu.Lock()
			s.state = stateUninitialized
			s.mu.Unlock()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	s.mu.Lock()
	s.state = stateReady
	s.mu.Unlock()

	s.wg.Add(1)
	go s.backgroundLoop(ctx)
	return nil
}

// Close tears the session down. Caches are discarded with it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	s.mu.Unlock()

	close(s.stop)
	if s.tr != nil {
		_ = s.tr.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Session) Self() domain.User { return s.self }

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// --- Channel directory ---

// Refresh re-fetches the channel list wholesale and re-derives unread
// counters from the server's values. On failure the cache is left untouched.
func (s *Session) Refresh(ctx context.Context) error {
	records, err := s.api.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("refresh channels: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	activeID := s.dir.activeID
	s.dir.replaceAll(records)
	s.unread = newUnreadLedger()
	for _, r := range records {
		s.unread.set(r.ID, r.Unread)
	}
	if activeID != "" && s.dir.setActive(activeID) {
		s.unread.markRead(activeID)
	}
	return nil
}

func (s *Session) Channels() []domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.snapshot()
}

func (s *Session) Channel(id string) (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.byID(id)
}

// SetActive selects the channel consulted for unread and notification
// suppression, drives its unread count to zero, persists the selection, and
// tells the server best-effort.
func (s *Session) SetActive(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if !s.dir.setActive(channelID) {
		s.mu.Unlock()
		return fmt.Errorf("channel %s: %w", channelID, tlerrors.ErrNotCached)
	}
	s.unread.markRead(channelID)
	s.store.SetActiveChannel(channelID)
	s.mu.Unlock()

	if err := s.api.MarkRead(ctx, channelID); err != nil {
		s.log.Warnf("mark read %s: %v", channelID, err)
	}
	return nil
}

func (s *Session) Active() (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.active()
}

func (s *Session) CreateChannel(ctx context.Context, req api.CreateChannelRequest) (domain.Channel, error) {
	ch, err := s.api.CreateChannel(ctx, req)
	if err != nil {
		return domain.Channel{}, err
	}
	s.mu.Lock()
	s.dir.upsert(ch)
	s.mu.Unlock()
	return ch, nil
}

// DirectChannel gets or creates the direct channel with another user.
func (s *Session) DirectChannel(ctx context.Context, userID string) (domain.Channel, error) {
	ch, err := s.api.DirectChannel(ctx, userID)
	if err != nil {
		return domain.Channel{}, err
	}
	s.mu.Lock()
	s.dir.upsert(ch)
	s.mu.Unlock()
	return ch, nil
}

// Archive archives a channel server-side and drops it from the directory.
func (s *Session) Archive(ctx context.Context, channelID string) error {
	if err := s.api.ArchiveChannel(ctx, channelID); err != nil {
		return err
	}
	s.mu.Lock()
	wasActive, _ := s.dir.remove(channelID)
	s.msgs.dropChannel(channelID)
	s.unread.drop(channelID)
	if wasActive {
		s.store.SetActiveChannel("")
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) StarChannel(ctx context.Context, channelID string, starred bool) error {
	return s.api.StarChannel(ctx, channelID, starred)
}

// MuteChannel toggles notification muting for a channel, server-side and in
// the local dispatcher at once.
func (s *Session) MuteChannel(ctx context.Context, channelID string, muted bool) error {
	if err := s.api.MuteChannel(ctx, channelID, muted); err != nil {
		return err
	}
	s.mu.Lock()
	if s.dispatcher != nil {
		s.dispatcher.SetMuted(channelID, muted)
	}
	s.dir.mutate(channelID, func(ch *domain.Channel) { ch.Muted = muted })
	s.mu.Unlock()
	return nil
}

// --- Unread ledger ---

func (s *Session) Unread(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.count(channelID)
}

func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.total()
}

// MarkRead clears a channel's unread counter without activating it (used by
// the activity feed).
func (s *Session) MarkRead(ctx context.Context, channelID string) error {
	s.mu.Lock()
	s.unread.markRead(channelID)
	s.mu.Unlock()
	if err := s.api.MarkRead(ctx, channelID); err != nil {
		s.log.Warnf("mark read %s: %v", channelID, err)
	}
	return nil
}

// --- Message store ---

// LoadMessages fetches the newest page for a channel plus its pinned subset.
// Returns whether more history remains. Racing loads for the same channel
// merge by id union and cannot corrupt ordering.
func (s *Session) LoadMessages(ctx context.Context, channelID string) (bool, error) {
	return s.load(ctx, channelID, time.Time{})
}

// LoadOlder fetches the page preceding the oldest cached message.
func (s *Session) LoadOlder(ctx context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	before, ok := s.msgs.oldest(channelID)
	s.mu.Unlock()
	if !ok {
		return s.load(ctx, channelID, time.Time{})
	}
	return s.load(ctx, channelID, before)
}

func (s *Session) load(ctx context.Context, channelID string, before time.Time) (bool, error) {
	page, err := s.api.GetMessages(ctx, channelID, before, s.opts.PageSize)
	if err != nil {
		return false, fmt.Errorf("load messages: %w", err)
	}
	s.mu.Lock()
	s.msgs.mergePage(channelID, page)
	more := s.msgs.more(channelID)
	s.mu.Unlock()
	return more, nil
}

func (s *Session) Messages(channelID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs.messages(channelID)
}

func (s *Session) PinnedMessages(channelID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs.pinnedMessages(channelID)
}

func (s *Session) HasMoreHistory(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs.more(channelID)
}

// Send persists the message through REST, appends the authoritative response
// locally without waiting for the socket echo, and broadcasts it to other
// participants. On failure nothing was appended and the error propagates so
// the compose box can keep the draft.
func (s *Session) Send(ctx context.Context, req api.SendMessageRequest) (domain.Message, error) {
	msg, err := s.api.SendMessage(ctx, req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("send: %w", err)
	}

	s.mu.Lock()
	s.msgs.upsert(msg)
	s.applyPreview(msg)
	s.mu.Unlock()

	s.publish(ctx, events.MessageSend{Message: msg})
	return msg, nil
}

// SendFile uploads the file via a presigned ticket, then sends a file
// message carrying the attachment metadata.
func (s *Session) SendFile(ctx context.Context, channelID, fileName, contentType string, size int64, body io.Reader) (domain.Message, error) {
	ticket, err := s.api.CreateUpload(ctx, api.UploadRequest{
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create upload: %w", err)
	}
	if err := s.api.Upload(ctx, ticket, body); err != nil {
		return domain.Message{}, fmt.Errorf("upload: %w", err)
	}
	return s.Send(ctx, api.SendMessageRequest{
		ChannelID: channelID,
		Body:      fileName,
		Kind:      domain.MessageKindFile,
		Attachments: []domain.Attachment{{
			ID:          ticket.Key,
			FileName:    fileName,
			ContentType: contentType,
			SizeBytes:   size,
			URL:         ticket.PublicURL,
		}},
	})
}

// Edit rewrites a message's body. Editing a message that is not cached
// locally is a soft no-op error.
func (s *Session) Edit(ctx context.Context, messageID, body string) error {
	s.mu.Lock()
	_, cached := s.msgs.find(messageID)
	s.mu.Unlock()
	if !cached {
		return fmt.Errorf("edit %s: %w", messageID, tlerrors.ErrNotCached)
	}

	msg, err := s.api.EditMessage(ctx, messageID, body)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}

	editedAt := s.opts.Now()
	if msg.EditedAt != nil {
		editedAt = *msg.EditedAt
	}

	s.mu.Lock()
	s.msgs.applyEdit(messageID, msg.Body, editedAt)
	s.mu.Unlock()

	s.publish(ctx, events.MessageEdited{
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		Body:      msg.Body,
		EditedAt:  editedAt,
	})
	return nil
}

func (s *Session) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	msg, cached := s.msgs.find(messageID)
	s.mu.Unlock()
	if !cached {
		return fmt.Errorf("delete %s: %w", messageID, tlerrors.ErrNotCached)
	}

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	s.mu.Lock()
	s.msgs.applyDelete(messageID)
	s.mu.Unlock()

	s.publish(ctx, events.MessageDeleted{MessageID: messageID, ChannelID: msg.ChannelID})
	return nil
}

// React adds or removes the current user's reaction.
func (s *Session) React(ctx context.Context, messageID, emoji string, add bool) error {
	s.mu.Lock()
	msg, cached := s.msgs.find(messageID)
	s.mu.Unlock()
	if !cached {
		return fmt.Errorf("react %s: %w", messageID, tlerrors.ErrNotCached)
	}

	var err error
	if add {
		err = s.api.AddReaction(ctx, messageID, emoji)
	} else {
		err = s.api.RemoveReaction(ctx, messageID, emoji)
	}
	if err != nil {
		return fmt.Errorf("react: %w", err)
	}

	s.mu.Lock()
	s.msgs.applyReaction(messageID, s.self.ID, emoji, add)
	s.mu.Unlock()

	if add {
		s.publish(ctx, events.ReactionAdded{MessageID: messageID, ChannelID: msg.ChannelID, UserID: s.self.ID, Emoji: emoji})
	} else {
		s.publish(ctx, events.ReactionRemoved{MessageID: messageID, ChannelID: msg.ChannelID, UserID: s.self.ID, Emoji: emoji})
	}
	return nil
}

// Pin flips a message's pin flag and maintains the pinned subset.
func (s *Session) Pin(ctx context.Context, messageID string, pinned bool) error {
	s.mu.Lock()
	msg, cached := s.msgs.find(messageID)
	s.mu.Unlock()
	if !cached {
		return fmt.Errorf("pin %s: %w", messageID, tlerrors.ErrNotCached)
	}

	if err := s.api.PinMessage(ctx, messageID, pinned); err != nil {
		return fmt.Errorf("pin: %w", err)
	}

	s.mu.Lock()
	s.msgs.applyPin(messageID, msg.ChannelID, pinned)
	s.mu.Unlock()

	s.publish(ctx, events.MessagePinned{MessageID: messageID, ChannelID: msg.ChannelID, Pinned: pinned})
	return nil
}

// --- Presence ---

// SetStatus pushes the current user's chosen status: local cache first
// (optimistic), then REST and socket broadcast.
func (s *Session) SetStatus(ctx context.Context, state domain.PresenceState, custom *domain.CustomStatus) error {
	s.mu.Lock()
	p := s.pres.setSelf(state, custom)
	s.mu.Unlock()

	if err := s.api.UpdatePresence(ctx, state, custom); err != nil {
		s.log.Warnf("update presence: %v", err)
	}
	s.publish(ctx, events.PresenceUpdated{Presence: p})
	return nil
}

func (s *Session) Presence(userID string) domain.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pres.get(userID)
}

func (s *Session) SelfPresence() domain.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pres.self()
}

// Touch records a local interaction event (pointer move, key press, click,
// scroll). If the user was idle-away this promotes them back to active and
// broadcasts the change.
func (s *Session) Touch(ctx context.Context) {
	s.mu.Lock()
	p, promoted := s.pres.touch()
	s.mu.Unlock()
	if !promoted {
		return
	}
	if err := s.api.UpdatePresence(ctx, p.State, p.Custom); err != nil {
		s.log.Warnf("update presence: %v", err)
	}
	s.publish(ctx, events.PresenceUpdated{Presence: p})
}

// --- Typing ---

// SetTyping broadcasts the current user's typing state for a channel.
func (s *Session) SetTyping(ctx context.Context, channelID string, typing bool) {
	s.publish(ctx, events.TypingUpdate{
		ChannelID: channelID,
		UserID:    s.self.ID,
		UserName:  s.self.Name,
		Typing:    typing,
	})
}

// Typing returns the users currently typing in a channel.
func (s *Session) Typing(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepTyping(s.opts.Now())
	users := s.typing[channelID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

// --- Notification prompt ---

func (s *Session) NotifyPromptDismissed() bool {
	return s.opts.Now().Before(s.store.NotifyPromptDismissedUntil())
}

func (s *Session) DismissNotifyPrompt(d time.Duration) {
	s.store.DismissNotifyPrompt(s.opts.Now().Add(d))
}

// --- Event handling ---

func (s *Session) handleState(st transport.State) {
	s.mu.Lock()
	s.connected = st == transport.StateConnected
	connected := s.connected
	s.mu.Unlock()

	if connected {
		// Join every channel we belong to, not just the active one.
		s.publish(context.Background(), events.ClientInit{UserID: s.self.ID})
		s.log.Infof("socket connected")
	} else {
		// Caches stay as last known; operations fail gracefully until
		// the adapter reconnects.
		s.log.Warnf("socket disconnected")
	}
}

func (s *Session) handleEvent(ev events.Event) {
	var payload *NotificationPayload

	s.mu.Lock()
	switch e := ev.(type) {
	case events.MessageReceived:
		payload = s.applyInbound(e.Message)
	case events.MessageEdited:
		if !s.msgs.applyEdit(e.MessageID, e.Body, e.EditedAt) {
			s.log.Debugf("edit for uncached message %s", e.MessageID)
		}
	case events.MessageDeleted:
		if !s.msgs.applyDelete(e.MessageID) {
			s.log.Debugf("delete for uncached message %s", e.MessageID)
		}
	case events.MessagePinned:
		s.msgs.applyPin(e.MessageID, e.ChannelID, e.Pinned)
	case events.ReactionAdded:
		s.msgs.applyReaction(e.MessageID, e.UserID, e.Emoji, true)
	case events.ReactionRemoved:
		s.msgs.applyReaction(e.MessageID, e.UserID, e.Emoji, false)
	case events.TypingUpdate:
		s.applyTyping(e)
	case events.PresenceUpdated:
		s.pres.apply(e.Presence)
	case events.ChannelNew:
		s.dir.upsert(e.Channel)
	case events.ChannelUpdated:
		s.dir.replace(e.Channel)
	case events.ChannelDeleted:
		wasActive, _ := s.dir.remove(e.ChannelID)
		s.msgs.dropChannel(e.ChannelID)
		s.unread.drop(e.ChannelID)
		if wasActive {
			s.store.SetActiveChannel("")
		}
	}
	s.mu.Unlock()

	if payload != nil && s.notifier != nil {
		s.notifier.Show(*payload)
	}
}

// applyInbound reconciles a delivered message. If the id is already cached
// (the sender's own optimistic append, or a double delivery) this is a
// silent no-op and neither unread nor notifications fire. Called with s.mu
// held; the returned payload is shown after unlock.
func (s *Session) applyInbound(m domain.Message) *NotificationPayload {
	if !s.msgs.upsert(m) {
		return nil
	}
	s.applyPreview(m)

	if m.SenderID != s.self.ID {
		s.unread.onInbound(m.ChannelID, s.dir.activeID)
	}

	ch, ok := s.dir.byID(m.ChannelID)
	if !ok || s.dispatcher == nil {
		return nil
	}
	show, mention := s.dispatcher.Evaluate(m, ch, s.dir.activeID)
	if !show {
		return nil
	}
	p := s.dispatcher.BuildPayload(m, ch, mention)
	return &p
}

// applyPreview refreshes the channel's last-message summary.
func (s *Session) applyPreview(m domain.Message) {
	s.dir.mutate(m.ChannelID, func(ch *domain.Channel) {
		preview := m.Preview(previewLimit)
		ch.LastMessage = &preview
		ch.UpdatedAt = m.CreatedAt
	})
}

func (s *Session) applyTyping(e events.TypingUpdate) {
	if e.UserID == s.self.ID {
		return
	}
	users, ok := s.typing[e.ChannelID]
	if !ok {
		users = make(map[string]time.Time)
		s.typing[e.ChannelID] = users
	}
	if e.Typing {
		users[e.UserID] = s.opts.Now().Add(s.opts.TypingExpiry)
	} else {
		delete(users, e.UserID)
	}
}

// sweepTyping drops expired indicators. Called with s.mu held.
func (s *Session) sweepTyping(now time.Time) {
	for ch, users := range s.typing {
		for id, expiry := range users {
			if now.After(expiry) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(s.typing, ch)
		}
	}
}

// backgroundLoop runs the idle decay check and typing sweep on a fixed poll
// interval.
func (s *Session) backgroundLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.IdlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			p, decayed := s.pres.tick()
			s.sweepTyping(s.opts.Now())
			s.mu.Unlock()

			if decayed {
				if err := s.api.UpdatePresence(ctx, p.State, p.Custom); err != nil {
					s.log.Warnf("update presence: %v", err)
				}
				s.publish(ctx, events.PresenceUpdated{Presence: p})
			}
		}
	}
}

// publish sends an event over the transport best-effort. The REST write is
// the source of truth; a failed broadcast only delays other clients until
// they refresh.
func (s *Session) publish(ctx context.Context, ev events.Event) {
	if s.tr == nil {
		return
	}
	if err := s.tr.Publish(ctx, ev); err != nil {
		s.log.Warnf("broadcast %s: %v", ev.EventType(), err)
	}
}
