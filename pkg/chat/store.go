package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the ordered message list for one conversation session.
// The session id is an explicit field owned by the store: it is
// generated at construction and regenerated by Clear, never by ambient
// module state. Store is safe for concurrent use so that Stop may be
// called while a Send is in flight.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	messages  []Message
	lastQuery string
	lastErr   string
}

// NewStore creates an empty session with a fresh session id.
func NewStore() *Store {
	return &Store{
		sessionID: uuid.New().String(),
	}
}

// SessionID returns the correlation id for the current session.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Messages returns a copy of the message list in conversation order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// Append adds a message to the end of the session.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Replace shallow-merges patch onto the message matching id. A missing
// id is a silent no-op: a stale update may legitimately arrive after a
// retry truncated the message away.
func (s *Store) Replace(id string, patch Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			patch.apply(&s.messages[i])
			return
		}
	}
}

// Remove deletes the message matching id, preserving order of the rest.
// Missing ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// TruncateFrom removes the message matching id and everything after it.
// The inclusive cut lets retry discard both the query's old answer and
// the query message itself before re-sending. No-op if id is absent.
func (s *Store) TruncateFrom(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = s.messages[:i]
			return
		}
	}
}

// Clear empties the session and raises a fresh session id.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.lastQuery = ""
	s.lastErr = ""
	s.sessionID = uuid.New().String()
}

// LastQuery returns the text of the most recently sent human message.
// It survives completion and cancellation so retry keeps working.
func (s *Store) LastQuery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuery
}

func (s *Store) setLastQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
}

// Err returns the session-level error string from the most recent
// failed query, or "" when the last query succeeded.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// lastHumanMessage returns the most recent human-role message.
func (s *Store) lastHumanMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleHuman {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// newMessage builds a message with a fresh id and timestamp.
func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}
