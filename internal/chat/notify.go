package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"teamline/internal/domain"
)

// notifyBodyLimit caps notification body length.
const notifyBodyLimit = 120

// Notifier is the system notification capability. The dispatcher decides
// whether and with what content to call it; presentation is not its problem.
type Notifier interface {
	Show(p NotificationPayload)
}

type NotificationPayload struct {
	Title     string
	Body      string
	ChannelID string
	MessageID string
	// Mention payloads persist until dismissed instead of auto-expiring.
	Sticky bool
}

// Dispatcher decides whether an inbound message should surface a system
// notification.
type Dispatcher struct {
	self  domain.User
	muted map[string]struct{}
}

func NewDispatcher(self domain.User, mutedChannels []string) *Dispatcher {
	muted := make(map[string]struct{}, len(mutedChannels))
	for _, id := range mutedChannels {
		muted[id] = struct{}{}
	}
	return &Dispatcher{self: self, muted: muted}
}

// SetMuted updates the server-side mute set copy consulted on every
// evaluation.
func (d *Dispatcher) SetMuted(channelID string, muted bool) {
	if muted {
		d.muted[channelID] = struct{}{}
	} else {
		delete(d.muted, channelID)
	}
}

// Evaluate returns whether the message should notify. Suppression wins
// unless all of: the channel is not muted, the sender is not the current
// user, and either the channel is not the active one or the message carries
// force priority (direct message or explicit mention).
func (d *Dispatcher) Evaluate(msg domain.Message, ch domain.Channel, activeChannelID string) (show, mention bool) {
	if msg.SenderID == d.self.ID {
		return false, false
	}
	if ch.Muted {
		return false, false
	}
	if _, ok := d.muted[ch.ID]; ok {
		return false, false
	}
	if ch.Notify == domain.NotifyNone {
		return false, false
	}

	mention = d.mentions(msg.Body)
	force := mention || ch.Kind == domain.ChannelKindDirect

	if ch.Notify == domain.NotifyMentions && !force {
		return false, mention
	}
	if ch.ID == activeChannelID && !force {
		return false, mention
	}
	return true, mention
}

// mentions reports whether the body addresses the current user, either by
// display name or via the @all token. Multi-word display names are matched on
// their first token, since that is what people type after the @.
func (d *Dispatcher) mentions(body string) bool {
	lower := strings.ToLower(body)
	if mentioned(lower, "all") {
		return true
	}
	name := strings.ToLower(d.self.Name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		name = name[:i]
	}
	return name != "" && mentioned(lower, name)
}

// mentioned reports whether body contains "@"+name ending at a word boundary,
// so "@dana" does not fire inside "@danak".
func mentioned(body, name string) bool {
	token := "@" + name
	for i := 0; ; {
		j := strings.Index(body[i:], token)
		if j < 0 {
			return false
		}
		end := i + j + len(token)
		if end == len(body) {
			return true
		}
		r, _ := utf8.DecodeRuneInString(body[end:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
		i = end
	}
}

// BuildPayload shapes the notification title/body. Direct messages lead with
// the sender; channel messages lead with the channel and prefix the sender in
// the body. Mentions are marked sticky.
func (d *Dispatcher) BuildPayload(msg domain.Message, ch domain.Channel, mention bool) NotificationPayload {
	body := msg.Body
	if msg.Kind == domain.MessageKindFile {
		body = "sent a file"
		if len(msg.Attachments) > 0 {
			body = "sent " + msg.Attachments[0].FileName
		}
	}

	var title string
	switch {
	case mention:
		title = fmt.Sprintf("%s mentioned you in %s", msg.SenderName, ch.DisplayName(d.self.ID))
	case ch.Kind == domain.ChannelKindDirect:
		title = msg.SenderName
	default:
		title = ch.DisplayName(d.self.ID)
		body = msg.SenderName + ": " + body
	}

	return NotificationPayload{
		Title:     title,
		Body:      domain.Truncate(body, notifyBodyLimit),
		ChannelID: ch.ID,
		MessageID: msg.ID,
		Sticky:    mention,
	}
}
