package chat

import (
	"testing"
	"time"

	"teamline/internal/domain"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestTracker() (*presenceTracker, *fakeClock) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tr := newPresenceTracker("u-self", 10*time.Minute, clock.now)
	tr.setSelf(domain.PresenceActive, nil)
	return tr, clock
}

func TestPresenceTracker_Tick_DecaysToAwayAfterThreshold(t *testing.T) {
	tr, clock := newTestTracker()

	clock.advance(9 * time.Minute)
	if _, decayed := tr.tick(); decayed {
		t.Fatal("decayed before threshold")
	}

	clock.advance(61 * time.Second)
	p, decayed := tr.tick()
	if !decayed {
		t.Fatal("decayed = false after threshold")
	}
	if p.State != domain.PresenceAway {
		t.Fatalf("State = %q, want %q", p.State, domain.PresenceAway)
	}

	// Once away, further ticks are no-ops.
	clock.advance(time.Hour)
	if _, decayed := tr.tick(); decayed {
		t.Fatal("second decay from away state")
	}
}

func TestPresenceTracker_Touch_PromotesAwayToActive(t *testing.T) {
	tr, clock := newTestTracker()

	clock.advance(11 * time.Minute)
	tr.tick()

	p, promoted := tr.touch()
	if !promoted {
		t.Fatal("promoted = false, want true")
	}
	if p.State != domain.PresenceActive {
		t.Fatalf("State = %q, want %q", p.State, domain.PresenceActive)
	}

	// Touch while already active is silent.
	if _, promoted := tr.touch(); promoted {
		t.Fatal("promoted = true while already active")
	}
}

func TestPresenceTracker_Touch_ResetsIdleTimer(t *testing.T) {
	tr, clock := newTestTracker()

	clock.advance(9 * time.Minute)
	tr.touch()
	clock.advance(9 * time.Minute)

	if _, decayed := tr.tick(); decayed {
		t.Fatal("decayed despite recent interaction")
	}
}

func TestPresenceTracker_Tick_DNDNeverDecays(t *testing.T) {
	tr, clock := newTestTracker()
	tr.setSelf(domain.PresenceDND, &domain.CustomStatus{Text: "focus"})

	clock.advance(time.Hour)
	p, decayed := tr.tick()
	if decayed {
		t.Fatal("dnd decayed to away")
	}
	if p.State != domain.PresenceDND {
		t.Fatalf("State = %q, want %q", p.State, domain.PresenceDND)
	}
}

func TestPresenceTracker_Tick_KeepsCustomStatusThroughDecay(t *testing.T) {
	tr, clock := newTestTracker()
	tr.setSelf(domain.PresenceActive, &domain.CustomStatus{Emoji: "☕", Text: "coffee"})

	clock.advance(11 * time.Minute)
	p, decayed := tr.tick()
	if !decayed {
		t.Fatal("decayed = false")
	}
	if p.Custom == nil || p.Custom.Text != "coffee" {
		t.Fatalf("Custom = %+v, want preserved", p.Custom)
	}
}

func TestPresenceTracker_Apply_RejectsStaleUpdates(t *testing.T) {
	tr, clock := newTestTracker()

	fresh := domain.Presence{
		UserID:    "u-other",
		State:     domain.PresenceActive,
		UpdatedAt: clock.at,
	}
	stale := domain.Presence{
		UserID:    "u-other",
		State:     domain.PresenceAway,
		UpdatedAt: clock.at.Add(-time.Minute),
	}

	if !tr.apply(fresh) {
		t.Fatal("apply(fresh) = false")
	}
	if tr.apply(stale) {
		t.Fatal("apply(stale) = true, want rejected")
	}
	if got := tr.get("u-other").State; got != domain.PresenceActive {
		t.Fatalf("State = %q, want %q", got, domain.PresenceActive)
	}
}

func TestPresenceTracker_Get_UnknownDefaultsAway(t *testing.T) {
	tr, _ := newTestTracker()
	p := tr.get("u-stranger")
	if p.State != domain.PresenceAway {
		t.Fatalf("State = %q, want %q", p.State, domain.PresenceAway)
	}
	if p.Online() {
		t.Fatal("Online() = true for unknown user")
	}
}
