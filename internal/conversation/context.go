// Package conversation holds the ordered, append-only transcript shared by
// every persona in a session.
package conversation

import (
	"sync"
	"time"

	"yuzu/concierge/internal/persona"
)

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

type Turn struct {
	Role    Role         `json:"role"`
	Persona persona.Name `json:"persona,omitempty"`
	Text    string       `json:"text"`
	At      time.Time    `json:"at"`
}

// Sink receives every appended turn. Record must not block.
type Sink interface {
	Record(sessionID string, t Turn)
}

// Context survives hand-offs untouched. There is one writer (the session's
// turn loop); readers get copies.
type Context struct {
	sessionID string
	sink      Sink

	mu    sync.RWMutex
	turns []Turn
}

func New(sessionID string, sink Sink) *Context {
	return &Context{sessionID: sessionID, sink: sink}
}

func (c *Context) Append(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.Record(c.sessionID, t)
	}
}

func (c *Context) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func (c *Context) HasUserTurns() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.turns {
		if t.Role == User {
			return true
		}
	}
	return false
}
