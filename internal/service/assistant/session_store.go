package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"modalhub/internal/models"
)

// ErrSessionNotFound is returned for ids the store does not hold.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore owns conversation histories keyed by session id.
type SessionStore interface {
	// GetOrCreate returns the session for id, touching last_active, or creates
	// a fresh one under a new id when id is empty or unknown. The bool reports
	// whether a session was created.
	GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error)
	// Append adds turns atomically and touches last_active.
	Append(ctx context.Context, id string, turns ...models.Message) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// Retention bounds session growth. Zero values disable the matching limit.
type Retention struct {
	TTL        time.Duration
	MaxHistory int
}

func newSession(now time.Time) *models.Session {
	return &models.Session{
		ID:         uuid.NewString(),
		History:    make([]models.Message, 0),
		CreatedAt:  now,
		LastActive: now,
	}
}

// appendTurns adds turns and drops the oldest ones past max.
func appendTurns(s *models.Session, max int, now time.Time, turns ...models.Message) {
	s.History = append(s.History, turns...)
	if max > 0 && len(s.History) > max {
		trimmed := make([]models.Message, max)
		copy(trimmed, s.History[len(s.History)-max:])
		s.History = trimmed
	}
	s.LastActive = now
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	retention Retention
	now       func() time.Time
}

// NewMemoryStore builds an empty in-process session store.
func NewMemoryStore(retention Retention) *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*models.Session),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if se, ok := m.sessions[id]; ok && !m.expiredLocked(se, now) {
			se.LastActive = now
			return se.Clone(), false, nil
		}
	}
	se := newSession(now)
	for {
		if _, taken := m.sessions[se.ID]; !taken {
			break
		}
		se.ID = uuid.NewString()
	}
	m.sessions[se.ID] = se
	return se.Clone(), true, nil
}

func (m *MemoryStore) Append(ctx context.Context, id string, turns ...models.Message) (*models.Session, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sessions[id]
	if !ok || m.expiredLocked(se, now) {
		return nil, ErrSessionNotFound
	}
	appendTurns(se, m.retention.MaxHistory, now, turns...)
	return se.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	se, ok := m.sessions[id]
	if !ok || m.expiredLocked(se, m.now()) {
		return nil, ErrSessionNotFound
	}
	return se.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len reports how many sessions are held, expired ones included until swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle longer than the TTL and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	if m.retention.TTL <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, se := range m.sessions {
		if m.expiredLocked(se, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired sessions every interval until ctx is done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if m.retention.TTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 && onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}

func (m *MemoryStore) expiredLocked(se *models.Session, now time.Time) bool {
	return m.retention.TTL > 0 && now.Sub(se.LastActive) > m.retention.TTL
}
