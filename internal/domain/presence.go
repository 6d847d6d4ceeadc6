package domain

import "time"

type CustomStatus struct {
	Emoji string `json:"emoji,omitempty"`
	Text  string `json:"text,omitempty"`
}

type Presence struct {
	UserID     string        `json:"user_id"`
	State      PresenceState `json:"state"`
	Custom     *CustomStatus `json:"custom,omitempty"`
	LastActive time.Time     `json:"last_active"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Online reports whether the user counts as reachable. Away users are shown
// as offline in rosters.
func (p Presence) Online() bool {
	return p.State == PresenceActive || p.State == PresenceDND
}
