package speech

import (
	"context"
	"sync"
)

// Channel serialises a session's speech so at most one utterance is in
// flight. Speak waits for the previous handle before starting the next.
type Channel struct {
	speaker Speaker

	mu      sync.Mutex // held across Speak to keep issue order
	stateMu sync.Mutex
	current *Handle
}

func NewChannel(s Speaker) *Channel { return &Channel{speaker: s} }

func (c *Channel) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev := c.InFlight(); prev != nil {
		// an earlier failure is not ours to report
		if err := prev.Wait(ctx); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	h, err := c.speaker.Speak(ctx, u)
	if err != nil {
		return nil, err
	}
	c.stateMu.Lock()
	c.current = h
	c.stateMu.Unlock()
	return h, nil
}

// SpeakAndWait speaks and blocks until playback completes.
func (c *Channel) SpeakAndWait(ctx context.Context, u Utterance) error {
	h, err := c.Speak(ctx, u)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// InFlight returns the utterance still playing, or nil.
func (c *Channel) InFlight() *Handle {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.current == nil || c.current.Finished() {
		return nil
	}
	return c.current
}

// Drain waits for any in-flight utterance to finish.
func (c *Channel) Drain(ctx context.Context) error {
	h := c.InFlight()
	if h == nil {
		return nil
	}
	if err := h.Wait(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
