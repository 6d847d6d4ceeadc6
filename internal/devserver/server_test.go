package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"teamline/internal/api"
	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/transport"
	tlerrors "teamline/pkg/errors"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(ServerOptions{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.BaseURL = ts.URL
	return srv, ts
}

func registerUser(t *testing.T, baseURL, name, email string) (domain.User, *api.Client) {
	t.Helper()
	c := api.NewClient(baseURL, nil, nil)
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

func TestServer_Auth(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	registerUser(t, ts.URL, "Dana", "dana@example.com")

	t.Run("duplicate email conflicts", func(t *testing.T) {
		c := api.NewClient(ts.URL, nil, nil)
		_, err := c.Register(ctx, api.RegisterRequest{
			Name:     "Imposter",
			Email:    "dana@example.com",
			Password: "hunter2!",
		})
		if !errors.Is(err, tlerrors.ErrConflict) {
			t.Fatalf("Register(duplicate) error = %v, want ErrConflict", err)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		c := api.NewClient(ts.URL, nil, nil)
		_, err := c.Login(ctx, api.LoginRequest{Email: "dana@example.com", Password: "wrong"})
		if !errors.Is(err, tlerrors.ErrUnauthorized) {
			t.Fatalf("Login(wrong password) error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("login returns working token", func(t *testing.T) {
		c := api.NewClient(ts.URL, nil, nil)
		auth, err := c.Login(ctx, api.LoginRequest{Email: "dana@example.com", Password: "hunter2!"})
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		c.SetTokenSource(api.StaticToken{User: auth.User.ID, Bearer: auth.Token})
		if _, err := c.ListChannels(ctx); err != nil {
			t.Fatalf("ListChannels() with fresh token error = %v", err)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		c := api.NewClient(ts.URL, api.StaticToken{User: "u", Bearer: "garbage"}, nil)
		_, err := c.ListChannels(ctx)
		if !errors.Is(err, tlerrors.ErrUnauthorized) {
			t.Fatalf("ListChannels(garbage token) error = %v, want ErrUnauthorized", err)
		}
	})
}

func TestServer_ChannelAndMessageFlow(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	dana, danaAPI := registerUser(t, ts.URL, "Dana", "dana@example.com")
	rae, raeAPI := registerUser(t, ts.URL, "Rae", "rae@example.com")

	ch, err := danaAPI.CreateChannel(ctx, api.CreateChannelRequest{
		Kind:    domain.ChannelKindGroup,
		Name:    "general",
		Members: []string{rae.ID},
	})
	if err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	if !ch.HasMember(dana.ID) || !ch.HasMember(rae.ID) {
		t.Fatalf("channel members = %+v, want both users", ch.Members)
	}

	sent, err := danaAPI.SendMessage(ctx, api.SendMessageRequest{ChannelID: ch.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	t.Run("unread counted for the other member", func(t *testing.T) {
		records, err := raeAPI.ListChannels(ctx)
		if err != nil {
			t.Fatalf("ListChannels() error = %v", err)
		}
		if len(records) != 1 || records[0].Unread != 1 {
			t.Fatalf("records = %+v, want one channel with unread 1", records)
		}
		if err := raeAPI.MarkRead(ctx, ch.ID); err != nil {
			t.Fatalf("MarkRead() error = %v", err)
		}
		records, _ = raeAPI.ListChannels(ctx)
		if records[0].Unread != 0 {
			t.Fatalf("Unread after MarkRead = %d, want 0", records[0].Unread)
		}
	})

	t.Run("non-member cannot post", func(t *testing.T) {
		_, outsiderAPI := registerUser(t, ts.URL, "Sam", "sam@example.com")
		_, err := outsiderAPI.SendMessage(ctx, api.SendMessageRequest{ChannelID: ch.ID, Body: "hi"})
		if !errors.Is(err, tlerrors.ErrForbidden) {
			t.Fatalf("SendMessage(non-member) error = %v, want ErrForbidden", err)
		}
	})

	t.Run("only the sender can edit", func(t *testing.T) {
		if _, err := raeAPI.EditMessage(ctx, sent.ID, "hijacked"); !errors.Is(err, tlerrors.ErrForbidden) {
			t.Fatalf("EditMessage(foreign) error = %v, want ErrForbidden", err)
		}
		edited, err := danaAPI.EditMessage(ctx, sent.ID, "hello again")
		if err != nil {
			t.Fatalf("EditMessage() error = %v", err)
		}
		if edited.Body != "hello again" || !edited.Edited {
			t.Fatalf("edited = %+v", edited)
		}
	})

	t.Run("reactions and pins round-trip", func(t *testing.T) {
		if err := raeAPI.AddReaction(ctx, sent.ID, "👍"); err != nil {
			t.Fatalf("AddReaction() error = %v", err)
		}
		if err := danaAPI.PinMessage(ctx, sent.ID, true); err != nil {
			t.Fatalf("PinMessage() error = %v", err)
		}

		page, err := danaAPI.GetMessages(ctx, ch.ID, time.Time{}, 50)
		if err != nil {
			t.Fatalf("GetMessages() error = %v", err)
		}
		if len(page.Messages) != 1 {
			t.Fatalf("len(Messages) = %d, want 1", len(page.Messages))
		}
		got := page.Messages[0]
		if len(got.Reactions["👍"]) != 1 {
			t.Fatalf("Reactions = %v, want one 👍", got.Reactions)
		}
		if !got.Pinned || len(page.Pinned) != 1 {
			t.Fatalf("pin state = %v / %d pinned", got.Pinned, len(page.Pinned))
		}
	})

	t.Run("mute list round-trips", func(t *testing.T) {
		if err := raeAPI.MuteChannel(ctx, ch.ID, true); err != nil {
			t.Fatalf("MuteChannel() error = %v", err)
		}
		muted, err := raeAPI.MutedChannels(ctx)
		if err != nil {
			t.Fatalf("MutedChannels() error = %v", err)
		}
		if len(muted) != 1 || muted[0] != ch.ID {
			t.Fatalf("muted = %v, want [%s]", muted, ch.ID)
		}
	})

	t.Run("archive hides the channel", func(t *testing.T) {
		if err := danaAPI.ArchiveChannel(ctx, ch.ID); err != nil {
			t.Fatalf("ArchiveChannel() error = %v", err)
		}
		records, _ := danaAPI.ListChannels(ctx)
		if len(records) != 0 {
			t.Fatalf("records after archive = %d, want 0", len(records))
		}
	})
}

func TestServer_DirectChannelIdempotent(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	_, danaAPI := registerUser(t, ts.URL, "Dana", "dana@example.com")
	rae, _ := registerUser(t, ts.URL, "Rae", "rae@example.com")

	first, err := danaAPI.DirectChannel(ctx, rae.ID)
	if err != nil {
		t.Fatalf("DirectChannel() error = %v", err)
	}
	second, err := danaAPI.DirectChannel(ctx, rae.ID)
	if err != nil {
		t.Fatalf("second DirectChannel() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("direct channel ids differ: %q vs %q", first.ID, second.ID)
	}
	if first.Kind != domain.ChannelKindDirect {
		t.Fatalf("Kind = %q, want %q", first.Kind, domain.ChannelKindDirect)
	}
}

func TestServer_UploadRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	_, danaAPI := registerUser(t, ts.URL, "Dana", "dana@example.com")

	ticket, err := danaAPI.CreateUpload(ctx, api.UploadRequest{
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   11,
	})
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if err := danaAPI.Upload(ctx, ticket, strings.NewReader("pdf content")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	resp, err := http.Get(ticket.PublicURL)
	if err != nil {
		t.Fatalf("GET %s error = %v", ticket.PublicURL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pdf content" {
		t.Fatalf("downloaded = %q, want %q", body, "pdf content")
	}
}

// TestServer_SocketDelivery runs the real websocket adapter against the dev
// server: a REST send by one user must arrive as a socket event for the
// other.
func TestServer_SocketDelivery(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	dana, danaAPI := registerUser(t, ts.URL, "Dana", "dana@example.com")
	rae, _ := registerUser(t, ts.URL, "Rae", "rae@example.com")

	ch, err := danaAPI.CreateChannel(ctx, api.CreateChannelRequest{
		Kind:    domain.ChannelKindGroup,
		Name:    "general",
		Members: []string{rae.ID},
	})
	if err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}

	received := make(chan events.Event, 16)
	adapter := transport.NewWebsocketAdapter(ts.URL, api.StaticToken{User: rae.ID, Bearer: raeToken(t, ts.URL)}, nil, nil)
	adapter.OnEvent(func(ev events.Event) { received <- ev })
	adapter.OnState(func(transport.State) {})
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("adapter.Start() error = %v", err)
	}
	defer adapter.Close()

	// The dial returns before the server finishes registering the client.
	for i := 0; i < 100 && srv.Hub().ConnectionCount() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Hub().ConnectionCount() == 0 {
		t.Fatal("socket client never registered")
	}

	sent, err := danaAPI.SendMessage(ctx, api.SendMessageRequest{ChannelID: ch.ID, Body: "over the wire"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-received:
			msg, ok := ev.(events.MessageReceived)
			if !ok {
				continue
			}
			if msg.Message.ID != sent.ID {
				t.Fatalf("delivered id = %q, want %q", msg.Message.ID, sent.ID)
			}
			if msg.Message.SenderID != dana.ID {
				t.Fatalf("delivered sender = %q, want %q", msg.Message.SenderID, dana.ID)
			}
			return
		case <-deadline:
			t.Fatal("no socket delivery within 5s")
		}
	}
}

// raeToken logs Rae in again just to mint a fresh bearer token.
func raeToken(t *testing.T, baseURL string) string {
	t.Helper()
	c := api.NewClient(baseURL, nil, nil)
	auth, err := c.Login(context.Background(), api.LoginRequest{Email: "rae@example.com", Password: "hunter2!"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return auth.Token
}
