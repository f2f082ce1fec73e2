package conversation

import (
	"sync"
	"time"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// State is the step a chat's dialogue is waiting on. The menu has no
// session at all.
type State int

const (
	StateAwaitingPassword State = iota + 1
	StateTitle
	StateDescription
	StatePhotos
	StateSeverity
	StateAuthorInfo
	StateUnblockHandle
)

func (s State) String() string {
	switch s {
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateTitle:
		return "title"
	case StateDescription:
		return "description"
	case StatePhotos:
		return "photos"
	case StateSeverity:
		return "severity"
	case StateAuthorInfo:
		return "author_info"
	case StateUnblockHandle:
		return "unblock_handle"
	default:
		return "menu"
	}
}

// Session holds the fields collected so far. Fields are filled strictly in
// state order; Kind is set when the session is created.
type Session struct {
	State       State
	Kind        protocol.IssueKind
	Title       string
	Description string
	Photos      []protocol.PhotoRef
	Severity    protocol.Severity
	AuthorInfo  string

	Touched time.Time
}

// SessionStore keeps one session per chat in memory. Sessions do not
// survive a restart.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[protocol.ChatID]Session
	now      func() time.Time
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[protocol.ChatID]Session),
		now:      time.Now,
	}
}

// Get returns a copy of the chat's session.
func (s *SessionStore) Get(id protocol.ChatID) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.Photos = append([]protocol.PhotoRef(nil), sess.Photos...)
	}
	return sess, ok
}

// Put stores sess for the chat, replacing any previous one.
func (s *SessionStore) Put(id protocol.ChatID, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Touched = s.now()
	s.sessions[id] = sess
}

// Delete drops the chat's session.
func (s *SessionStore) Delete(id protocol.ChatID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions untouched for longer than ttl and returns how many
// were removed.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for id, sess := range s.sessions {
		if sess.Touched.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
