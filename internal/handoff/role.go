package handoff

import (
	"sync"

	"yuzu/concierge/internal/persona"
)

// ActiveRole is created once per session as the router and mutated in place
// on every hand-off. Only the Controller writes it.
type ActiveRole struct {
	mu    sync.RWMutex
	desc  persona.Descriptor
	topic string
}

func NewActiveRole(reg *persona.Registry) (*ActiveRole, error) {
	d, err := reg.Lookup(persona.Router)
	if err != nil {
		return nil, err
	}
	return &ActiveRole{desc: d}, nil
}

func (r *ActiveRole) Descriptor() persona.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.desc
}

func (r *ActiveRole) Topic() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topic
}

// Instructions are the active persona's template with the bound topic.
func (r *ActiveRole) Instructions() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.desc.Instructions(r.topic)
}

type Snapshot struct {
	Persona persona.Name `json:"persona"`
	Display string       `json:"display_name"`
	Topic   string       `json:"topic"`
	VoiceID string       `json:"voice_id"`
}

func (r *ActiveRole) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Persona: r.desc.Name, Display: r.desc.DisplayName, Topic: r.topic, VoiceID: r.desc.VoiceID}
}

func (r *ActiveRole) set(d persona.Descriptor, topic string) {
	r.mu.Lock()
	r.desc = d
	r.topic = topic
	r.mu.Unlock()
}
