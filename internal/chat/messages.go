package chat

import (
	"time"

	"teamline/internal/api"
	"teamline/internal/domain"
)

// messageStore holds the per-channel ordered message caches plus the parallel
// pinned subsets. Not safe for concurrent use; the Session serializes access.
type messageStore struct {
	buckets map[string]*orderedList[domain.Message]
	pinned  map[string]*orderedList[domain.Message]
	hasMore map[string]bool
}

func newMessageStore() *messageStore {
	return &messageStore{
		buckets: make(map[string]*orderedList[domain.Message]),
		pinned:  make(map[string]*orderedList[domain.Message]),
		hasMore: make(map[string]bool),
	}
}

func newMessageList() *orderedList[domain.Message] {
	return newOrderedList(
		func(m domain.Message) string { return m.ID },
		func(m domain.Message) time.Time { return m.CreatedAt },
	)
}

func (s *messageStore) bucket(channelID string) *orderedList[domain.Message] {
	b, ok := s.buckets[channelID]
	if !ok {
		b = newMessageList()
		s.buckets[channelID] = b
	}
	return b
}

func (s *messageStore) pinnedBucket(channelID string) *orderedList[domain.Message] {
	b, ok := s.pinned[channelID]
	if !ok {
		b = newMessageList()
		s.pinned[channelID] = b
	}
	return b
}

// mergePage folds a fetched history page into the cache. Merging is an
// id-set union, so a page that resolves late, or overlaps what a racing load
// already inserted, lands harmlessly.
func (s *messageStore) mergePage(channelID string, page api.MessagesPage) {
	b := s.bucket(channelID)
	for _, m := range page.Messages {
		b.upsert(m)
	}
	pb := s.pinnedBucket(channelID)
	for _, m := range page.Pinned {
		pb.upsert(m)
	}
	s.hasMore[channelID] = page.HasMore
}

// upsert merges one message into its channel bucket. Returns true when the
// message was new; false means this was the echo of an id already applied
// (the optimistic append or a double delivery) and nothing changed.
func (s *messageStore) upsert(m domain.Message) bool {
	inserted := s.bucket(m.ChannelID).upsert(m)
	if m.Pinned {
		s.pinnedBucket(m.ChannelID).upsert(m)
	}
	return inserted
}

// applyEdit rewrites the body wherever the id is cached. The channel is not
// assumed: edits can be triggered from pinned or search views, so every
// bucket is scanned by id.
func (s *messageStore) applyEdit(messageID, body string, editedAt time.Time) bool {
	found := false
	mutate := func(m *domain.Message) {
		m.Body = body
		m.Edited = true
		at := editedAt
		m.EditedAt = &at
	}
	for _, b := range s.buckets {
		if b.update(messageID, mutate) {
			found = true
		}
	}
	for _, b := range s.pinned {
		b.update(messageID, mutate)
	}
	return found
}

func (s *messageStore) applyDelete(messageID string) bool {
	found := false
	for _, b := range s.buckets {
		if b.remove(messageID) {
			found = true
		}
	}
	for _, b := range s.pinned {
		b.remove(messageID)
	}
	return found
}

func (s *messageStore) applyReaction(messageID, userID, emoji string, add bool) bool {
	found := false
	mutate := func(m *domain.Message) {
		if add {
			m.AddReaction(emoji, userID)
		} else {
			m.RemoveReaction(emoji, userID)
		}
	}
	for _, b := range s.buckets {
		if b.update(messageID, mutate) {
			found = true
		}
	}
	for _, b := range s.pinned {
		b.update(messageID, mutate)
	}
	return found
}

// applyPin flips the pin flag and maintains the pinned subset, keyed by
// message id so concurrent pin/unpin of different messages cannot clobber
// each other.
func (s *messageStore) applyPin(messageID, channelID string, pinned bool) bool {
	found := false
	for _, b := range s.buckets {
		if b.update(messageID, func(m *domain.Message) { m.Pinned = pinned }) {
			found = true
		}
	}
	pb := s.pinnedBucket(channelID)
	if pinned {
		if m, ok := s.bucket(channelID).get(messageID); ok {
			pb.upsert(m)
		}
	} else {
		pb.remove(messageID)
	}
	return found
}

func (s *messageStore) find(messageID string) (domain.Message, bool) {
	for _, b := range s.buckets {
		if m, ok := b.get(messageID); ok {
			return m, true
		}
	}
	return domain.Message{}, false
}

func (s *messageStore) dropChannel(channelID string) {
	delete(s.buckets, channelID)
	delete(s.pinned, channelID)
	delete(s.hasMore, channelID)
}

func (s *messageStore) messages(channelID string) []domain.Message {
	b, ok := s.buckets[channelID]
	if !ok {
		return nil
	}
	return b.snapshot()
}

func (s *messageStore) pinnedMessages(channelID string) []domain.Message {
	b, ok := s.pinned[channelID]
	if !ok {
		return nil
	}
	return b.snapshot()
}

// oldest returns the creation time of the earliest cached message, used as
// the pagination cursor for load-older.
func (s *messageStore) oldest(channelID string) (time.Time, bool) {
	b, ok := s.buckets[channelID]
	if !ok || b.len() == 0 {
		return time.Time{}, false
	}
	return b.items[0].CreatedAt, true
}

func (s *messageStore) more(channelID string) bool {
	return s.hasMore[channelID]
}
