package chat

import (
	"time"

	"teamline/internal/domain"
)

// presenceTracker caches per-user presence and runs the local idle state
// machine for the current user: active -> away after the idle threshold with
// no tracked interaction, away -> active edge-triggered on any interaction.
// dnd is a deliberate user state the idle timer never touches.
//
// Remote updates are merged by user id; updates older than what is cached are
// rejected so an out-of-order broadcast cannot overwrite fresher state.
type presenceTracker struct {
	records map[string]domain.Presence

	selfID        string
	idleThreshold time.Duration
	lastInput     time.Time
	now           func() time.Time
}

func newPresenceTracker(selfID string, idleThreshold time.Duration, now func() time.Time) *presenceTracker {
	t := &presenceTracker{
		records:       make(map[string]domain.Presence),
		selfID:        selfID,
		idleThreshold: idleThreshold,
		now:           now,
	}
	t.lastInput = now()
	return t
}

// apply merges a remote presence record. Returns false when the update is
// stale or a no-op.
func (t *presenceTracker) apply(p domain.Presence) bool {
	existing, ok := t.records[p.UserID]
	if ok && existing.UpdatedAt.After(p.UpdatedAt) {
		return false
	}
	t.records[p.UserID] = p
	return true
}

func (t *presenceTracker) get(userID string) domain.Presence {
	if p, ok := t.records[userID]; ok {
		return p
	}
	// Unknown users default to away until something promotes them.
	return domain.Presence{UserID: userID, State: domain.PresenceAway}
}

func (t *presenceTracker) self() domain.Presence {
	return t.get(t.selfID)
}

// setSelf records a user-chosen status for the current user.
func (t *presenceTracker) setSelf(state domain.PresenceState, custom *domain.CustomStatus) domain.Presence {
	now := t.now()
	p := domain.Presence{
		UserID:     t.selfID,
		State:      state,
		Custom:     custom,
		LastActive: now,
		UpdatedAt:  now,
	}
	t.records[t.selfID] = p
	return p
}

// touch records a local interaction. Returns the new self presence and true
// when this promoted the user from away back to active.
func (t *presenceTracker) touch() (domain.Presence, bool) {
	t.lastInput = t.now()
	p := t.self()
	if p.State != domain.PresenceAway {
		return p, false
	}
	return t.setSelf(domain.PresenceActive, p.Custom), true
}

// tick runs one idle check. Returns the new self presence and true when the
// user just decayed to away.
func (t *presenceTracker) tick() (domain.Presence, bool) {
	p := t.self()
	if p.State != domain.PresenceActive {
		return p, false
	}
	if t.now().Sub(t.lastInput) < t.idleThreshold {
		return p, false
	}
	return t.setSelf(domain.PresenceAway, p.Custom), true
}
