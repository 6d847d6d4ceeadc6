package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the small bits of client state that should survive a
// restart: the last active channel and the notification prompt dismissal.
type StateStore interface {
	ActiveChannel() string
	SetActiveChannel(id string)
	NotifyPromptDismissedUntil() time.Time
	DismissNotifyPrompt(until time.Time)
}

type persistedState struct {
	ActiveChannel     string    `json:"active_channel,omitempty"`
	NotifyPromptUntil time.Time `json:"notify_prompt_dismissed_until,omitempty"`
}

// FileStateStore keeps state in a JSON file under the user's config dir.
// Write failures are swallowed: losing the remembered channel is harmless.
type FileStateStore struct {
	path  string
	state persistedState
}

func NewFileStateStore(dir string) (*FileStateStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "teamline")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStateStore{path: filepath.Join(dir, "state.json")}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &s.state)
	}
	return s, nil
}

func (s *FileStateStore) ActiveChannel() string { return s.state.ActiveChannel }

func (s *FileStateStore) SetActiveChannel(id string) {
	s.state.ActiveChannel = id
	s.flush()
}

func (s *FileStateStore) NotifyPromptDismissedUntil() time.Time {
	return s.state.NotifyPromptUntil
}

func (s *FileStateStore) DismissNotifyPrompt(until time.Time) {
	s.state.NotifyPromptUntil = until
	s.flush()
}

func (s *FileStateStore) flush() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0o644)
}

// MemoryStateStore is a StateStore that forgets on restart. Used in tests and
// when no config dir is available.
type MemoryStateStore struct {
	state persistedState
}

func NewMemoryStateStore() *MemoryStateStore { return &MemoryStateStore{} }

func (s *MemoryStateStore) ActiveChannel() string      { return s.state.ActiveChannel }
func (s *MemoryStateStore) SetActiveChannel(id string) { s.state.ActiveChannel = id }

func (s *MemoryStateStore) NotifyPromptDismissedUntil() time.Time {
	return s.state.NotifyPromptUntil
}

func (s *MemoryStateStore) DismissNotifyPrompt(until time.Time) {
	s.state.NotifyPromptUntil = until
}
