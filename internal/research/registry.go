package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the local lifecycle state of a session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Session correlates a user request with its engine thread and current run.
// Sessions live only in the registry; once a final report has been delivered
// the session is removed. Errored and timed-out sessions are kept so the
// thread id stays discoverable for recovery.
type Session struct {
	ID        string        `json:"session_id"`
	ThreadID  string        `json:"thread_id"`
	RunID     string        `json:"run_id"`
	Question  string        `json:"question"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
}

// Elapsed is the time since the session's current run was submitted.
func (s *Session) Elapsed() time.Duration { return time.Since(s.StartedAt) }

// Store is the session registry. Implementations must make each operation
// atomic with respect to concurrent callers.
type Store interface {
	// Create allocates a fresh session id and inserts a running session.
	Create(ctx context.Context, question, threadID, runID string) (*Session, error)
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// MostRecent returns the session with the latest start time, or
	// ErrNoSessions when the registry is empty.
	MostRecent(ctx context.Context) (*Session, error)
	// Update replaces the stored record for the session's id.
	Update(ctx context.Context, sess *Session) error
	// Remove deletes the session. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
	// List returns sessions in insertion order.
	List(ctx context.Context) ([]*Session, error)
}

// MemoryStore is the default registry: a process-local map guarded by a
// RWMutex. Nothing is persisted; a restart loses all sessions, which is
// why recovery by raw thread id bypasses the registry entirely.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, question, threadID, runID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := newSessionID()
	for _, taken := m.sessions[id]; taken; _, taken = m.sessions[id] {
		id = newSessionID()
	}
	sess := &Session{
		ID:        id,
		ThreadID:  threadID,
		RunID:     runID,
		Question:  question,
		Status:    SessionRunning,
		StartedAt: time.Now(),
	}
	m.sessions[id] = sess
	m.order = append(m.order, id)
	return sess.clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess.clone(), nil
}

func (m *MemoryStore) MostRecent(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Session
	for _, sess := range m.sessions {
		if latest == nil || sess.StartedAt.After(latest.StartedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNoSessions
	}
	return latest.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrSessionNotFound)
	}
	m.sessions[sess.ID] = sess.clone()
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil
	}
	delete(m.sessions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if sess, ok := m.sessions[id]; ok {
			out = append(out, sess.clone())
		}
	}
	return out, nil
}

func (s *Session) clone() *Session {
	cp := *s
	return &cp
}

// newSessionID returns a short random token. Collisions are re-rolled by
// the caller under its lock.
func newSessionID() string {
	return uuid.NewString()[:8]
}
