// Package store keeps the per-process session records and their event logs.
package store

import (
	"errors"
	"sync"
	"time"

	"yuzu/concierge/internal/types"
)

var ErrSessionExists = errors.New("session already exists")

const maxEvents = 200

type record struct {
	// created is false for records that only hold early events.
	created    bool
	sess       types.Session
	events     []types.Event
	botRunning bool
}

type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

func New() *Store {
	return &Store{records: make(map[string]*record)}
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sess.ID]
	if ok && rec.created {
		return ErrSessionExists
	}
	if !ok {
		rec = &record{events: []types.Event{}}
		s.records[sess.ID] = rec
	}
	rec.created = true
	rec.sess = *sess
	return nil
}

// GetSession returns a copy so callers cannot race with status updates.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || !rec.created {
		return nil
	}
	cp := rec.sess
	return &cp
}

// SetStatus moves a session to status. Ended is terminal: once a session has
// ended no other status is accepted and false is returned.
func (s *Store) SetStatus(id, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || !rec.created || rec.sess.Status == types.StatusEnded {
		return false
	}
	rec.sess.Status = status
	if status == types.StatusEnded {
		now := time.Now().UTC()
		rec.sess.EndedAt = &now
	}
	return true
}

// SetPersona records a hand-off to persona.
func (s *Store) SetPersona(id, persona string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || !rec.created || rec.sess.Persona == persona {
		return
	}
	if rec.sess.Persona != "" {
		rec.sess.Handoffs++
	}
	rec.sess.Persona = persona
}

// AppendEvent logs an event for sessionID. Events for unknown sessions are
// still kept so worker traffic racing session creation is not lost.
func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[sessionID]
	if rec == nil {
		rec = &record{sess: types.Session{ID: sessionID}}
		s.records[sessionID] = rec
	}
	rec.events = append(rec.events, evt)
	if l := len(rec.events); l > maxEvents {
		// The last slot is reserved for the truncation marker.
		keep := maxEvents - 1
		rec.events = append([]types.Event(nil), rec.events[l-keep:]...)
		rec.events = append(rec.events, types.Event{
			Type:    "events_truncated",
			Ts:      time.Now().UTC(),
			Payload: map[string]any{"session_id": sessionID, "dropped": l - keep, "kept": keep},
		})
	}
	return evt
}

// ListEvents returns the session's events, oldest first. With kinds set only
// events of those types are returned.
func (s *Store) ListEvents(sessionID string, kinds ...string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.records[sessionID]
	if rec == nil {
		return []types.Event{}
	}
	if len(kinds) == 0 {
		out := make([]types.Event, len(rec.events))
		copy(out, rec.events)
		return out
	}
	out := []types.Event{}
	for _, e := range rec.events {
		for _, k := range kinds {
			if e.Type == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (s *Store) SetBotRunning(sessionID string, running bool) {
	s.update(sessionID, func(r *record) { r.botRunning = running })
}

func (s *Store) IsBotRunning(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.records[sessionID]
	return rec != nil && rec.botRunning
}

func (s *Store) SetBotPID(sessionID string, pid int) {
	s.update(sessionID, func(r *record) { r.sess.BotPID = pid })
}

func (s *Store) SetBotExit(sessionID string, code int, at time.Time) {
	s.update(sessionID, func(r *record) {
		r.sess.BotLastExitCode = code
		r.sess.BotLastExitAt = &at
	})
}

func (s *Store) update(sessionID string, fn func(*record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok && rec.created {
		fn(rec)
	}
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.created {
			out = append(out, id)
		}
	}
	return out
}
