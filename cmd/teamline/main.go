package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"teamline/config"
	"teamline/internal/api"
	"teamline/internal/chat"
	"teamline/internal/domain"
	"teamline/internal/transport"
	"teamline/pkg/logger"
)

// consoleNotifier prints notifications to stderr so they interleave with
// the prompt without corrupting command output.
type consoleNotifier struct{}

func (consoleNotifier) Show(p chat.NotificationPayload) {
	marker := "*"
	if p.Sticky {
		marker = "!"
	}
	fmt.Fprintf(os.Stderr, "\n[%s] %s: %s\n> ", marker, p.Title, p.Body)
}

func main() {
	var (
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		name     = flag.String("name", "", "display name; registers a new account when set")
	)
	flag.Parse()

	cfg := config.Load()
	lg := logger.New(cfg.Client.Environment)
	logger.SetGlobalLogger(lg)
	defer lg.Logger.Sync()

	if *email == "" || *password == "" {
		log.Fatal("usage: teamline -email ... -password ... [-name ...]")
	}

	ctx := context.Background()
	client := api.NewClient(cfg.Client.ServerURL, nil, lg)

	var auth api.AuthResult
	var err error
	if *name != "" {
		auth, err = client.Register(ctx, api.RegisterRequest{Name: *name, Email: *email, Password: *password})
	} else {
		auth, err = client.Login(ctx, api.LoginRequest{Email: *email, Password: *password})
	}
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	tokens := api.StaticToken{User: auth.User.ID, Bearer: auth.Token}
	client.SetTokenSource(tokens)

	store, err := chat.NewFileStateStore(cfg.Client.StateDir)
	if err != nil {
		log.Fatalf("state store: %v", err)
	}

	adapter := transport.NewWebsocketAdapter(cfg.Client.ServerURL, tokens, nil, lg)
	session := chat.NewSession(client, adapter, consoleNotifier{}, store, auth.User, chat.Options{
		IdleThreshold: cfg.Client.IdleThreshold,
		IdlePoll:      cfg.Client.IdlePoll,
		Logger:        lg,
	})
	if err := session.Start(ctx); err != nil {
		log.Fatalf("session: %v", err)
	}
	defer session.Close()

	fmt.Printf("signed in as %s (%s)\n", auth.User.Name, auth.User.ID)
	repl(ctx, session)
}

func repl(ctx context.Context, s *chat.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			s.Touch(ctx)
			if line == "/quit" {
				return
			}
			if err := run(ctx, s, line); err != nil {
				fmt.Println("error:", err)
			}
		}
		fmt.Print("> ")
	}
}

func run(ctx context.Context, s *chat.Session, line string) error {
	if !strings.HasPrefix(line, "/") {
		ch, ok := s.Active()
		if !ok {
			return fmt.Errorf("no active channel, use /open <id>")
		}
		_, err := s.Send(ctx, api.SendMessageRequest{ChannelID: ch.ID, Body: line})
		return err
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/channels":
		self := s.Self()
		for _, ch := range s.Channels() {
			marker := " "
			if active, ok := s.Active(); ok && active.ID == ch.ID {
				marker = "*"
			}
			fmt.Printf("%s %-36s %-20s unread=%d\n", marker, ch.ID, ch.DisplayName(self.ID), s.Unread(ch.ID))
		}
		fmt.Printf("total unread: %d\n", s.TotalUnread())
	case "/open":
		if len(args) != 1 {
			return fmt.Errorf("usage: /open <channel-id>")
		}
		if err := s.SetActive(ctx, args[0]); err != nil {
			return err
		}
		if _, err := s.LoadMessages(ctx, args[0]); err != nil {
			return err
		}
		for _, m := range s.Messages(args[0]) {
			printMessage(m)
		}
	case "/older":
		ch, ok := s.Active()
		if !ok {
			return fmt.Errorf("no active channel")
		}
		more, err := s.LoadOlder(ctx, ch.ID)
		if err != nil {
			return err
		}
		for _, m := range s.Messages(ch.ID) {
			printMessage(m)
		}
		if !more {
			fmt.Println("(start of history)")
		}
	case "/dm":
		if len(args) != 1 {
			return fmt.Errorf("usage: /dm <user-id>")
		}
		ch, err := s.DirectChannel(ctx, args[0])
		if err != nil {
			return err
		}
		return s.SetActive(ctx, ch.ID)
	case "/create":
		if len(args) < 1 {
			return fmt.Errorf("usage: /create <name> [member-id...]")
		}
		ch, err := s.CreateChannel(ctx, api.CreateChannelRequest{
			Kind:    domain.ChannelKindGroup,
			Name:    args[0],
			Members: args[1:],
		})
		if err != nil {
			return err
		}
		fmt.Println("created", ch.ID)
	case "/pins":
		ch, ok := s.Active()
		if !ok {
			return fmt.Errorf("no active channel")
		}
		for _, m := range s.PinnedMessages(ch.ID) {
			printMessage(m)
		}
	case "/status":
		if len(args) < 1 {
			return fmt.Errorf("usage: /status active|away|dnd [text]")
		}
		var custom *domain.CustomStatus
		if len(args) > 1 {
			custom = &domain.CustomStatus{Text: strings.Join(args[1:], " ")}
		}
		return s.SetStatus(ctx, domain.PresenceState(args[0]), custom)
	case "/who":
		ch, ok := s.Active()
		if !ok {
			return fmt.Errorf("no active channel")
		}
		for _, m := range ch.Members {
			p := s.Presence(m.UserID)
			fmt.Printf("%-20s %s\n", m.Name, p.State)
		}
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
	return nil
}

func printMessage(m domain.Message) {
	pin := ""
	if m.Pinned {
		pin = " [pinned]"
	}
	edited := ""
	if m.Edited {
		edited = " (edited)"
	}
	fmt.Printf("%s %s: %s%s%s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Body, edited, pin)
}
