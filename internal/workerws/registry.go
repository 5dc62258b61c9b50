package workerws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	ws "nhooyr.io/websocket"
)

var ErrNoWorker = errors.New("no worker connected for session")

// Registry keeps at most one worker connection per session.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*ws.Conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*ws.Conn)} }

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[sessionID]; ok && old != nil {
		_ = old.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conns[sessionID] = c
	return
}

func (r *Registry) Get(sessionID string) *ws.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID]
}

// Remove drops c only if it is still the registered connection.
func (r *Registry) Remove(sessionID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == c {
		delete(r.conns, sessionID)
	}
}

// Close shuts the session's worker connection, if any.
func (r *Registry) Close(sessionID, reason string) {
	r.mu.Lock()
	c := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()
	if c != nil {
		_ = c.Close(ws.StatusNormalClosure, reason)
	}
}

// SendJSON writes v to the session's worker.
func (r *Registry) SendJSON(ctx context.Context, sessionID string, v any) error {
	r.mu.Lock()
	c := r.conns[sessionID]
	r.mu.Unlock()
	if c == nil {
		return ErrNoWorker
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
