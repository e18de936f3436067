package session

import (
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one transcript message.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Error     bool      `json:"error,omitempty"`
}

// HistoryMessage is the conversation history item sent with an execution.
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// Transcript is the ordered conversation of a session.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{now: now}
}

func (t *Transcript) AppendUser(content string) Entry {
	return t.append(Entry{Role: RoleUser, Content: content})
}

func (t *Transcript) AppendAssistant(content string) Entry {
	return t.append(Entry{Role: RoleAssistant, Content: content})
}

// AppendError records a failed exchange as an assistant entry.
func (t *Transcript) AppendError(content string) Entry {
	return t.append(Entry{Role: RoleAssistant, Content: content, Error: true})
}

func (t *Transcript) append(e Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Timestamp = t.now()
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a copy of every entry.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// History returns the messages sent as conversation history. Error entries
// are left out.
func (t *Transcript) History() []HistoryMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]HistoryMessage, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Error {
			continue
		}
		out = append(out, HistoryMessage{Role: e.Role, Content: e.Content})
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}
