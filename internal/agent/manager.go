package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already open")
)

// maxTombstones bounds how many ended session ids are remembered.
const maxTombstones = 1024

// Manager holds the live sessions of this process.
type Manager struct {
	deps   Deps
	logger *zap.Logger

	// OnClosed runs after a session is terminated and dropped.
	OnClosed func(sessionID string)

	mu       sync.RWMutex
	sessions map[string]*Session
	// ended remembers recently ended ids, oldest first in order.
	ended    map[string]struct{}
	order    []string
}

func NewManager(deps Deps) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		deps:     deps,
		logger:   deps.Logger.Named("agent"),
		sessions: make(map[string]*Session),
		ended:    make(map[string]struct{}),
	}, nil
}

func (m *Manager) Open(sessionID, room string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil, ErrSessionExists
	}
	if _, ok := m.ended[sessionID]; ok {
		return nil, ErrSessionExists
	}
	s, err := NewSession(sessionID, room, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[sessionID] = s
	metricSessionsLive.Inc()
	// Sessions that end themselves are dropped too.
	go func() {
		<-s.Ended()
		m.drop(sessionID, s)
	}()
	return s, nil
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// IsEnded reports whether sessionID belonged to a session that has ended and
// been dropped.
func (m *Manager) IsEnded(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ended[sessionID]
	return ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close terminates a session and forgets it. If ctx ends first the sequence
// keeps running and the session is dropped when it finishes, so OnClosed
// never runs before the goodbye and teardown are done.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	err := s.Terminate(ctx)
	select {
	case <-s.Ended():
		m.drop(sessionID, s)
	default:
	}
	return err
}

func (m *Manager) drop(sessionID string, s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[sessionID]
	if ok && cur == s {
		delete(m.sessions, sessionID)
		m.tombstone(sessionID)
		metricSessionsLive.Dec()
	}
	m.mu.Unlock()
	if ok && cur == s && m.OnClosed != nil {
		m.OnClosed(sessionID)
	}
}

func (m *Manager) tombstone(sessionID string) {
	m.ended[sessionID] = struct{}{}
	m.order = append(m.order, sessionID)
	if len(m.order) > maxTombstones {
		delete(m.ended, m.order[0])
		m.order = m.order[1:]
	}
}

// Shutdown terminates every live session concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				m.logger.Warn("terminate on shutdown", zap.String("session_id", id), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}
