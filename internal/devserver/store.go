package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamline/internal/api"
	"teamline/internal/domain"
	tlerrors "teamline/pkg/errors"
)

type storedUser struct {
	domain.User
	PasswordHash []byte
}

// Store is the dev server's in-memory data model. It stands in for the real
// backend's database and mirrors just enough of its semantics: per-user read
// cursors, mute/star sets, ordered message history.
type Store struct {
	mu        sync.RWMutex
	users     map[string]storedUser   // by id
	byEmail   map[string]string       // email -> user id
	channels  map[string]domain.Channel
	messages  map[string][]domain.Message // channel id -> ascending by CreatedAt
	lastRead  map[string]map[string]time.Time // user id -> channel id -> cursor
	muted     map[string]map[string]bool      // user id -> channel id
	starred   map[string]map[string]bool
	uploads   map[string][]byte
	presence  map[string]domain.Presence
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]storedUser),
		byEmail:  make(map[string]string),
		channels: make(map[string]domain.Channel),
		messages: make(map[string][]domain.Message),
		lastRead: make(map[string]map[string]time.Time),
		muted:    make(map[string]map[string]bool),
		starred:  make(map[string]map[string]bool),
		uploads:  make(map[string][]byte),
		presence: make(map[string]domain.Presence),
	}
}

// --- Users ---

func (s *Store) CreateUser(name, email string, hash []byte) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.byEmail[key]; ok {
		return domain.User{}, tlerrors.ErrConflict
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	s.users[u.ID] = storedUser{User: u, PasswordHash: hash}
	s.byEmail[key] = u.ID
	return u, nil
}

func (s *Store) UserByEmail(email string) (domain.User, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, nil, tlerrors.ErrNotFound
	}
	u := s.users[id]
	return u.User, u.PasswordHash, nil
}

func (s *Store) User(id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, tlerrors.ErrNotFound
	}
	return u.User, nil
}

// --- Channels ---

func (s *Store) CreateChannel(kind domain.ChannelKind, name string, members []domain.Member) domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	ch := domain.Channel{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		Members:   members,
		Notify:    domain.NotifyAll,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.channels[ch.ID] = ch
	return ch
}

// DirectChannel finds or creates the two-member direct channel between the
// given users.
func (s *Store) DirectChannel(a, b domain.User) (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.Kind != domain.ChannelKindDirect {
			continue
		}
		if ch.HasMember(a.ID) && ch.HasMember(b.ID) {
			return ch, false
		}
	}
	now := time.Now().UTC()
	ch := domain.Channel{
		ID:   uuid.New().String(),
		Kind: domain.ChannelKindDirect,
		Members: []domain.Member{
			{UserID: a.ID, Name: a.Name, Role: domain.MemberRoleMember},
			{UserID: b.ID, Name: b.Name, Role: domain.MemberRoleMember},
		},
		Notify:    domain.NotifyAll,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.channels[ch.ID] = ch
	return ch, true
}

func (s *Store) Channel(id string) (domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return domain.Channel{}, tlerrors.ErrNotFound
	}
	return ch, nil
}

func (s *Store) UpdateChannel(ch domain.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.UpdatedAt = time.Now().UTC()
	s.channels[ch.ID] = ch
}

// ChannelsFor lists the user's unarchived channels with unread counters.
func (s *Store) ChannelsFor(userID string) []api.ChannelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []api.ChannelRecord
	for _, ch := range s.channels {
		if ch.Archived || !ch.HasMember(userID) {
			continue
		}
		out = append(out, api.ChannelRecord{
			Channel: ch,
			Unread:  s.unreadLocked(userID, ch.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) unreadLocked(userID, channelID string) int {
	cursor := s.lastRead[userID][channelID]
	n := 0
	for _, m := range s.messages[channelID] {
		if m.SenderID != userID && m.CreatedAt.After(cursor) {
			n++
		}
	}
	return n
}

func (s *Store) MarkRead(userID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors, ok := s.lastRead[userID]
	if !ok {
		cursors = make(map[string]time.Time)
		s.lastRead[userID] = cursors
	}
	cursors[channelID] = time.Now().UTC()
}

func (s *Store) SetMuted(userID, channelID string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.muted[userID]
	if !ok {
		set = make(map[string]bool)
		s.muted[userID] = set
	}
	if muted {
		set[channelID] = true
	} else {
		delete(set, channelID)
	}
}

func (s *Store) MutedChannels(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for id := range s.muted[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) SetStarred(userID, channelID string, starred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.starred[userID]
	if !ok {
		set = make(map[string]bool)
		s.starred[userID] = set
	}
	if starred {
		set[channelID] = true
	} else {
		delete(set, channelID)
	}
}

func (s *Store) Starred(userID, channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.starred[userID][channelID]
}

// --- Messages ---

func (s *Store) AppendMessage(m domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ChannelID] = append(s.messages[m.ChannelID], m)
	if ch, ok := s.channels[m.ChannelID]; ok {
		preview := m.Preview(80)
		ch.LastMessage = &preview
		ch.UpdatedAt = m.CreatedAt
		s.channels[m.ChannelID] = ch
	}
	return m
}

func (s *Store) Message(id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return domain.Message{}, tlerrors.ErrNotFound
}

func (s *Store) UpdateMessage(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[m.ChannelID]
	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = m
			return nil
		}
	}
	return tlerrors.ErrNotFound
}

func (s *Store) DeleteMessage(id string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chID, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID == id {
				s.messages[chID] = append(msgs[:i], msgs[i+1:]...)
				return m, nil
			}
		}
	}
	return domain.Message{}, tlerrors.ErrNotFound
}

// Page returns up to limit messages older than before (zero means newest),
// ascending, plus the channel's pinned subset and whether more remain.
func (s *Store) Page(channelID string, before time.Time, limit int) api.MessagesPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[channelID]

	end := len(all)
	if !before.IsZero() {
		for end > 0 && !all[end-1].CreatedAt.Before(before) {
			end--
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := api.MessagesPage{HasMore: start > 0}
	page.Messages = append(page.Messages, all[start:end]...)
	for _, m := range all {
		if m.Pinned {
			page.Pinned = append(page.Pinned, m)
		}
	}
	return page
}

// --- Presence / uploads ---

func (s *Store) SetPresence(p domain.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[p.UserID] = p
}

func (s *Store) PutUpload(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = data
}

func (s *Store) GetUpload(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.uploads[key]
	return data, ok
}

// MemberIDs returns the user ids of a channel's members.
func (s *Store) MemberIDs(channelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		out = append(out, m.UserID)
	}
	return out
}

// AllUserIDs lists every registered user, used for presence fan-out.
func (s *Store) AllUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	return out
}
