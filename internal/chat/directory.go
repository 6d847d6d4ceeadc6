package chat

import (
	"time"

	"teamline/internal/api"
	"teamline/internal/domain"
)

// channelDirectory is the local cache of every channel the user belongs to.
// It is not safe for concurrent use; the Session serializes access.
type channelDirectory struct {
	list     *orderedList[domain.Channel]
	activeID string
}

func newChannelDirectory() *channelDirectory {
	return &channelDirectory{
		list: newOrderedList(
			func(c domain.Channel) string { return c.ID },
			func(c domain.Channel) time.Time { return c.CreatedAt },
		),
	}
}

// replaceAll swaps the cache wholesale with a fresh server listing.
func (d *channelDirectory) replaceAll(records []api.ChannelRecord) {
	d.list = newOrderedList(d.list.idOf, d.list.tsOf)
	for _, r := range records {
		d.list.upsert(r.Channel)
	}
}

// upsert inserts or replaces one channel. Insertion is idempotent by id.
func (d *channelDirectory) upsert(ch domain.Channel) bool {
	return d.list.upsert(ch)
}

// replace updates an existing channel by id; unknown ids are ignored so a
// stray channel:updated for a channel the user already left cannot insert it.
func (d *channelDirectory) replace(ch domain.Channel) bool {
	if !d.list.contains(ch.ID) {
		return false
	}
	d.list.upsert(ch)
	return true
}

// remove drops a channel. Returns whether it was the active channel, in which
// case the caller must clear the active selection.
func (d *channelDirectory) remove(id string) (wasActive bool, removed bool) {
	removed = d.list.remove(id)
	if removed && d.activeID == id {
		d.activeID = ""
		wasActive = true
	}
	return wasActive, removed
}

func (d *channelDirectory) byID(id string) (domain.Channel, bool) {
	return d.list.get(id)
}

func (d *channelDirectory) mutate(id string, fn func(*domain.Channel)) bool {
	return d.list.update(id, fn)
}

func (d *channelDirectory) setActive(id string) bool {
	if id == "" {
		d.activeID = ""
		return true
	}
	if !d.list.contains(id) {
		return false
	}
	d.activeID = id
	return true
}

func (d *channelDirectory) active() (domain.Channel, bool) {
	if d.activeID == "" {
		return domain.Channel{}, false
	}
	return d.list.get(d.activeID)
}

// restoreActive picks the persisted channel if it still resolves, otherwise
// the first available one.
func (d *channelDirectory) restoreActive(persisted string) string {
	if persisted != "" && d.list.contains(persisted) {
		d.activeID = persisted
		return persisted
	}
	if d.list.len() > 0 {
		d.activeID = d.list.items[0].ID
		return d.activeID
	}
	d.activeID = ""
	return ""
}

func (d *channelDirectory) snapshot() []domain.Channel {
	return d.list.snapshot()
}
