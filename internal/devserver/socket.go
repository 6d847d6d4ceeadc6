package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"teamline/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const socketReadLimit = 1 << 20

// handleSocket authenticates the ?token= query parameter, upgrades, and
// relays events until the connection drops.
func (s *Server) handleSocket(c *gin.Context) {
	user, err := s.auth.Parse(c.Query("token"))
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("socket upgrade for %s: %v", user.ID, err)
		return
	}

	client := NewClient(conn, user.ID)
	s.hub.Register(client)
	go client.WriteLoop(c.Request.Context())

	s.log.Infof("socket connected user=%s", user.ID)
	s.readLoop(client)
	s.hub.Unregister(client)
	s.log.Infof("socket disconnected user=%s", user.ID)
}

func (s *Server) readLoop(client *Client) {
	conn := client.Conn
	conn.SetReadLimit(socketReadLimit)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := events.Decode(data)
		if err != nil {
			s.log.Warnf("socket event from %s: %v", client.UserID, err)
			continue
		}
		s.dispatchClientEvent(client, ev)
	}
}

// dispatchClientEvent relays a client-originated event to the users who
// should observe it. Messages go to every channel member including the
// sender; the echo is what settles the client's optimistic copy.
func (s *Server) dispatchClientEvent(client *Client, ev events.Event) {
	ctx := context.Background()
	switch e := ev.(type) {
	case events.ClientInit:
		// Membership already lives in the store; nothing to subscribe.
	case events.MessageSend:
		if e.Message.SenderID != client.UserID {
			return
		}
		msg, err := s.store.Message(e.Message.ID)
		if err != nil {
			// Socket-only send: persist here so late joiners see it.
			msg = s.store.AppendMessage(e.Message)
		}
		s.broadcast(ctx, s.store.MemberIDs(msg.ChannelID), events.MessageReceived{Message: msg})
	case events.TypingUpdate:
		if e.UserID != client.UserID {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	case events.PresenceUpdated:
		if e.Presence.UserID != client.UserID {
			return
		}
		s.store.SetPresence(e.Presence)
		s.broadcast(ctx, s.store.AllUserIDs(), e)
	case events.MessageEdited:
		if !s.ownsMessage(client, e.MessageID, e.ChannelID) {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	case events.MessageDeleted:
		if !s.ownsMessage(client, e.MessageID, e.ChannelID) {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	case events.MessagePinned:
		if !s.isMember(e.ChannelID, client.UserID) {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	case events.ReactionAdded:
		if e.UserID != client.UserID || !s.isMember(e.ChannelID, client.UserID) {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	case events.ReactionRemoved:
		if e.UserID != client.UserID || !s.isMember(e.ChannelID, client.UserID) {
			return
		}
		s.broadcast(ctx, s.store.MemberIDs(e.ChannelID), e)
	default:
		s.log.Warnf("socket event %s from %s ignored", ev.EventType(), client.UserID)
	}
}

// ownsMessage verifies a relayed edit or delete against the store: the
// message must exist in the named channel and the relaying connection must be
// its sender. Forged relays are dropped. Deletes already applied through the
// REST handler resolve to not-found here, which is fine: the REST path
// broadcast them.
func (s *Server) ownsMessage(client *Client, messageID, channelID string) bool {
	msg, err := s.store.Message(messageID)
	if err != nil {
		return false
	}
	if msg.ChannelID != channelID || msg.SenderID != client.UserID {
		s.log.Warnf("dropping forged relay for message %s from %s", messageID, client.UserID)
		return false
	}
	return true
}

func (s *Server) isMember(channelID, userID string) bool {
	ch, err := s.store.Channel(channelID)
	return err == nil && ch.HasMember(userID)
}
