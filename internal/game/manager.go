package game

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FinishHook observes a session once, when it first becomes terminal.
type FinishHook func(s Session)

type entry struct {
	mu       sync.Mutex
	session  *Session
	finished bool
}

// Manager keeps live sessions and serialises operations on each of them.
// Different sessions never share a lock, so rounds of separate games run in
// parallel.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	hooks    []FinishHook
}

func NewManager(hooks ...FinishHook) *Manager {
	return &Manager{sessions: make(map[string]*entry), hooks: hooks}
}

// OnFinish registers another hook. Not safe to call once sessions are live.
func (m *Manager) OnFinish(h FinishHook) {
	m.hooks = append(m.hooks, h)
}

// Add registers s. A session that is already terminal (a failed secret
// pick) fires the finish hooks straight away.
func (m *Manager) Add(s *Session) {
	e := &entry{session: s}
	m.mu.Lock()
	m.sessions[s.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.checkFinished(e)
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

// Do runs fn with exclusive access to the session and returns a snapshot
// taken afterwards, even when fn fails.
func (m *Manager) Do(id string, fn func(s *Session) error) (Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = fn(e.session)
	m.checkFinished(e)
	return e.session.clone(), err
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap drops sessions idle for longer than maxAge and returns how many went.
func (m *Manager) Reap(now time.Time, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		idle := now.Sub(e.session.UpdatedAt)
		e.mu.Unlock()
		if idle > maxAge {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.sessions[id]
	if e == nil {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// checkFinished must be called with e.mu held.
func (m *Manager) checkFinished(e *entry) {
	if e.finished || !e.session.Status.Terminal() {
		return
	}
	e.finished = true
	snapshot := e.session.clone()
	log.Info().
		Str("session", snapshot.ID).
		Str("gameType", string(snapshot.GameType)).
		Str("status", string(snapshot.Status)).
		Int("questionCount", snapshot.QuestionCount).
		Msg("session finished")
	for _, h := range m.hooks {
		h(snapshot)
	}
}
