package chat

// unreadLedger tracks per-channel unread counters. The total is always
// derived by summing, never stored, so it cannot drift.
type unreadLedger struct {
	counts map[string]int
}

func newUnreadLedger() *unreadLedger {
	return &unreadLedger{counts: make(map[string]int)}
}

// onInbound bumps the counter for an inbound message unless the channel is
// the active one, which the user is presumed to be reading.
func (u *unreadLedger) onInbound(channelID, activeID string) {
	if channelID == activeID {
		return
	}
	u.counts[channelID]++
}

func (u *unreadLedger) markRead(channelID string) {
	delete(u.counts, channelID)
}

func (u *unreadLedger) set(channelID string, count int) {
	if count <= 0 {
		delete(u.counts, channelID)
		return
	}
	u.counts[channelID] = count
}

func (u *unreadLedger) drop(channelID string) {
	delete(u.counts, channelID)
}

func (u *unreadLedger) count(channelID string) int {
	return u.counts[channelID]
}

func (u *unreadLedger) total() int {
	sum := 0
	for _, c := range u.counts {
		sum += c
	}
	return sum
}
