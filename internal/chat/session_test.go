package chat

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"teamline/internal/api"
	"teamline/internal/devserver"
	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/transport"
	tlerrors "teamline/pkg/errors"
)

// fakeAdapter satisfies transport.Adapter and lets tests inject inbound
// events and state transitions directly.
type fakeAdapter struct {
	mu        sync.Mutex
	onEvent   func(events.Event)
	onState   func(transport.State)
	published []events.Event
	startErr  error
}

func (a *fakeAdapter) Start(context.Context) error { return a.startErr }
func (a *fakeAdapter) Close() error                { return nil }

func (a *fakeAdapter) Publish(_ context.Context, ev events.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.published = append(a.published, ev)
	return nil
}

func (a *fakeAdapter) OnEvent(fn func(events.Event))    { a.onEvent = fn }
func (a *fakeAdapter) OnState(fn func(transport.State)) { a.onState = fn }

func (a *fakeAdapter) emit(ev events.Event) { a.onEvent(ev) }

func (a *fakeAdapter) setState(st transport.State) { a.onState(st) }

func (a *fakeAdapter) publishedTypes() []events.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.EventType, 0, len(a.published))
	for _, ev := range a.published {
		out = append(out, ev.EventType())
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []NotificationPayload
}

func (n *fakeNotifier) Show(p NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, p)
}

func (n *fakeNotifier) payloads() []NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotificationPayload(nil), n.shown...)
}

// testEnv runs a real dev server over httptest and two registered users:
// self drives a Session, peer acts through a plain REST client.
type testEnv struct {
	ts       *httptest.Server
	self     domain.User
	selfAPI  *api.Client
	peer     domain.User
	peerAPI  *api.Client
	adapter  *fakeAdapter
	notifier *fakeNotifier
	session  *Session
	clock    *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := devserver.NewServer(devserver.ServerOptions{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.BaseURL = ts.URL

	register := func(name, email string) (domain.User, *api.Client) {
		c := api.NewClient(ts.URL, nil, nil)
		auth, err := c.Register(context.Background(), api.RegisterRequest{
			Name:     name,
			Email:    email,
			Password: "hunter2!",
		})
		if err != nil {
			t.Fatalf("Register(%s) error = %v", email, err)
		}
		c.SetTokenSource(api.StaticToken{User: auth.User.ID, Bearer: auth.Token})
		return auth.User, c
	}

	self, selfAPI := register("Dana", "dana@example.com")
	peer, peerAPI := register("Rae", "rae@example.com")

	adapter := &fakeAdapter{}
	notifier := &fakeNotifier{}
	clock := &fakeClock{at: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	env := &testEnv{
		ts:       ts,
		self:     self,
		selfAPI:  selfAPI,
		peer:     peer,
		peerAPI:  peerAPI,
		adapter:  adapter,
		notifier: notifier,
		clock:    clock,
	}
	env.session = NewSession(selfAPI, adapter, notifier, NewMemoryStateStore(), self, Options{
		Now: clock.now,
	})
	t.Cleanup(func() { env.session.Close() })
	return env
}

// sharedChannel creates a group channel containing both users, created by the
// peer so the session sees it only through REST or socket events.
func (e *testEnv) sharedChannel(t *testing.T, name string) domain.Channel {
	t.Helper()
	ch, err := e.peerAPI.CreateChannel(context.Background(), api.CreateChannelRequest{
		Kind:    domain.ChannelKindGroup,
		Name:    name,
		Members: []string{e.self.ID},
	})
	if err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	return ch
}

func (e *testEnv) peerMessage(channelID, body string) domain.Message {
	return domain.Message{
		ID:         "peer-" + body,
		ChannelID:  channelID,
		SenderID:   e.peer.ID,
		SenderName: e.peer.Name,
		Body:       body,
		Kind:       domain.MessageKindText,
		CreatedAt:  e.clock.now(),
	}
}

func TestSession_Start_LoadsChannelsAndRestoresActive(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")

	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !env.session.Ready() {
		t.Fatal("Ready() = false after Start")
	}
	channels := env.session.Channels()
	if len(channels) != 1 {
		t.Fatalf("len(Channels) = %d, want 1", len(channels))
	}
	if channels[0].ID != ch.ID {
		t.Fatalf("Channels[0].ID = %q, want %q", channels[0].ID, ch.ID)
	}
	// With nothing persisted the first channel becomes active.
	active, ok := env.session.Active()
	if !ok || active.ID != ch.ID {
		t.Fatalf("Active() = %v %v, want %s", active.ID, ok, ch.ID)
	}
}

func TestSession_Start_SecondCallRejected(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.Start(context.Background()); !errors.Is(err, tlerrors.ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_Start_AfterCloseRejected(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := env.session.Start(context.Background()); !errors.Is(err, tlerrors.ErrClosed) {
		t.Fatalf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestSession_Connect_JoinsAllChannels(t *testing.T) {
	env := newTestEnv(t)
	env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	env.adapter.setState(transport.StateConnected)

	types := env.adapter.publishedTypes()
	if len(types) == 0 || types[len(types)-1] != events.TypeClientInit {
		t.Fatalf("published = %v, want trailing client:init", types)
	}
	if !env.session.Connected() {
		t.Fatal("Connected() = false")
	}

	// A disconnect keeps caches in place.
	env.adapter.setState(transport.StateDisconnected)
	if env.session.Connected() {
		t.Fatal("Connected() = true after disconnect")
	}
	if got := env.session.Channels(); len(got) != 1 {
		t.Fatalf("channel cache lost on disconnect, len = %d", len(got))
	}
}

func TestSession_Send_EchoDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sent, err := env.session.Send(context.Background(), api.SendMessageRequest{
		ChannelID: ch.ID,
		Body:      "shipping it",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.ID == "" {
		t.Fatal("Send() returned message without id")
	}

	// The server echoes the same message back over the socket.
	env.adapter.emit(events.MessageReceived{Message: sent})

	got := env.session.Messages(ch.ID)
	if len(got) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(got))
	}
	if got[0].ID != sent.ID {
		t.Fatalf("Messages[0].ID = %q, want %q", got[0].ID, sent.ID)
	}
	// Own echo never counts as unread or notifies.
	if unread := env.session.Unread(ch.ID); unread != 0 {
		t.Fatalf("Unread = %d, want 0", unread)
	}
	if shown := env.notifier.payloads(); len(shown) != 0 {
		t.Fatalf("notifications = %d, want 0", len(shown))
	}
}

func TestSession_InboundMessage_UnreadAndNotify(t *testing.T) {
	env := newTestEnv(t)
	activeCh := env.sharedChannel(t, "general")
	otherCh := env.sharedChannel(t, "random")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.SetActive(context.Background(), activeCh.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(otherCh.ID, "psst")})

	if unread := env.session.Unread(otherCh.ID); unread != 1 {
		t.Fatalf("Unread(other) = %d, want 1", unread)
	}
	if total := env.session.TotalUnread(); total != 1 {
		t.Fatalf("TotalUnread = %d, want 1", total)
	}
	shown := env.notifier.payloads()
	if len(shown) != 1 {
		t.Fatalf("notifications = %d, want 1", len(shown))
	}
	if shown[0].ChannelID != otherCh.ID {
		t.Fatalf("notification channel = %q, want %q", shown[0].ChannelID, otherCh.ID)
	}

	// Messages in the active channel stay read and silent.
	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(activeCh.ID, "hi")})
	if unread := env.session.Unread(activeCh.ID); unread != 0 {
		t.Fatalf("Unread(active) = %d, want 0", unread)
	}
	if len(env.notifier.payloads()) != 1 {
		t.Fatal("active-channel message raised a notification")
	}

	// Switching to the other channel clears its counter.
	if err := env.session.SetActive(context.Background(), otherCh.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if unread := env.session.Unread(otherCh.ID); unread != 0 {
		t.Fatalf("Unread after SetActive = %d, want 0", unread)
	}
}

func TestSession_InboundMention_ForcesThroughActiveChannel(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.SetActive(context.Background(), ch.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(ch.ID, "@dana wdyt")})

	shown := env.notifier.payloads()
	if len(shown) != 1 {
		t.Fatalf("notifications = %d, want 1", len(shown))
	}
	if !shown[0].Sticky {
		t.Fatal("mention notification not sticky")
	}
}

func TestSession_SetActive_UnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := env.session.SetActive(context.Background(), "ghost")
	if !errors.Is(err, tlerrors.ErrNotCached) {
		t.Fatalf("SetActive(unknown) error = %v, want ErrNotCached", err)
	}
}

func TestSession_EditUncachedMessage(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := env.session.Edit(context.Background(), "ghost", "new body")
	if !errors.Is(err, tlerrors.ErrNotCached) {
		t.Fatalf("Edit(uncached) error = %v, want ErrNotCached", err)
	}
}

func TestSession_EditFlow_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sent, err := env.session.Send(context.Background(), api.SendMessageRequest{
		ChannelID: ch.ID,
		Body:      "draft",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := env.session.Edit(context.Background(), sent.ID, "final"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	got := env.session.Messages(ch.ID)
	if len(got) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(got))
	}
	if got[0].Body != "final" || !got[0].Edited {
		t.Fatalf("message after edit = %+v", got[0])
	}
}

func TestSession_ChannelLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.SetActive(context.Background(), ch.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	created := domain.Channel{
		ID:        "ch-new",
		Kind:      domain.ChannelKindGroup,
		Name:      "incidents",
		Notify:    domain.NotifyAll,
		CreatedAt: env.clock.now(),
	}
	env.adapter.emit(events.ChannelNew{Channel: created})
	if _, ok := env.session.Channel("ch-new"); !ok {
		t.Fatal("channel:new not applied")
	}

	renamed := created
	renamed.Name = "incidents-2026"
	env.adapter.emit(events.ChannelUpdated{Channel: renamed})
	got, _ := env.session.Channel("ch-new")
	if got.Name != "incidents-2026" {
		t.Fatalf("Name = %q, want %q", got.Name, "incidents-2026")
	}

	// Updates for unknown channels are dropped, not inserted.
	stranger := created
	stranger.ID = "ch-stranger"
	env.adapter.emit(events.ChannelUpdated{Channel: stranger})
	if _, ok := env.session.Channel("ch-stranger"); ok {
		t.Fatal("channel:updated inserted an unknown channel")
	}

	// Deleting the active channel clears the selection and its caches.
	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(ch.ID, "bye")})
	env.adapter.emit(events.ChannelDeleted{ChannelID: ch.ID})
	if _, ok := env.session.Channel(ch.ID); ok {
		t.Fatal("deleted channel still in directory")
	}
	if _, ok := env.session.Active(); ok {
		t.Fatal("deleted channel still active")
	}
	if got := env.session.Messages(ch.ID); len(got) != 0 {
		t.Fatalf("messages survived channel delete, len = %d", len(got))
	}
}

func TestSession_Typing_TracksAndExpires(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	env.adapter.emit(events.TypingUpdate{
		ChannelID: ch.ID,
		UserID:    env.peer.ID,
		UserName:  env.peer.Name,
		Typing:    true,
	})
	if got := env.session.Typing(ch.ID); len(got) != 1 || got[0] != env.peer.ID {
		t.Fatalf("Typing = %v, want [%s]", got, env.peer.ID)
	}

	// Own typing events are not reflected back.
	env.adapter.emit(events.TypingUpdate{ChannelID: ch.ID, UserID: env.self.ID, Typing: true})
	if got := env.session.Typing(ch.ID); len(got) != 1 {
		t.Fatalf("Typing after self event = %v", got)
	}

	env.clock.advance(11 * time.Second)
	if got := env.session.Typing(ch.ID); len(got) != 0 {
		t.Fatalf("Typing after expiry = %v, want empty", got)
	}
}

func TestSession_Presence_StaleEventRejected(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	fresh := domain.Presence{
		UserID:    env.peer.ID,
		State:     domain.PresenceActive,
		UpdatedAt: env.clock.now(),
	}
	stale := domain.Presence{
		UserID:    env.peer.ID,
		State:     domain.PresenceAway,
		UpdatedAt: env.clock.now().Add(-time.Minute),
	}
	env.adapter.emit(events.PresenceUpdated{Presence: fresh})
	env.adapter.emit(events.PresenceUpdated{Presence: stale})

	if got := env.session.Presence(env.peer.ID).State; got != domain.PresenceActive {
		t.Fatalf("Presence = %q, want %q", got, domain.PresenceActive)
	}
}

func TestSession_Refresh_ReplacesWholesale(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Peer activity while connected only through REST.
	if _, err := env.peerAPI.SendMessage(context.Background(), api.SendMessageRequest{
		ChannelID: ch.ID,
		Body:      "missed this",
	}); err != nil {
		t.Fatalf("peer SendMessage() error = %v", err)
	}
	newCh := env.sharedChannel(t, "random")

	if err := env.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, ok := env.session.Channel(newCh.ID); !ok {
		t.Fatal("refresh missed the new channel")
	}
	// The missed message counts as unread in the non-active channel... unless
	// ch became active at Start, in which case its counter was reset on read.
	active, _ := env.session.Active()
	if active.ID == ch.ID {
		if got := env.session.Unread(ch.ID); got != 0 {
			t.Fatalf("Unread(active) = %d, want 0", got)
		}
	} else if got := env.session.Unread(ch.ID); got != 1 {
		t.Fatalf("Unread = %d, want 1", got)
	}
}

func TestSession_MuteChannel_SuppressesNotifications(t *testing.T) {
	env := newTestEnv(t)
	activeCh := env.sharedChannel(t, "general")
	otherCh := env.sharedChannel(t, "random")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.session.SetActive(context.Background(), activeCh.ID); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	if err := env.session.MuteChannel(context.Background(), otherCh.ID, true); err != nil {
		t.Fatalf("MuteChannel() error = %v", err)
	}

	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(otherCh.ID, "noise")})

	if shown := env.notifier.payloads(); len(shown) != 0 {
		t.Fatalf("notifications = %d, want 0 for muted channel", len(shown))
	}
	// Muting silences notifications, not the unread counter.
	if unread := env.session.Unread(otherCh.ID); unread != 1 {
		t.Fatalf("Unread = %d, want 1", unread)
	}
}

func TestSession_Archive_DropsChannelState(t *testing.T) {
	env := newTestEnv(t)
	ch := env.sharedChannel(t, "general")
	if err := env.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.adapter.emit(events.MessageReceived{Message: env.peerMessage(ch.ID, "old news")})

	if err := env.session.Archive(context.Background(), ch.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if _, ok := env.session.Channel(ch.ID); ok {
		t.Fatal("archived channel still in directory")
	}
	if got := env.session.TotalUnread(); got != 0 {
		t.Fatalf("TotalUnread after archive = %d, want 0", got)
	}
}
