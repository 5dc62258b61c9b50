// Package speechtest provides a recording Speaker for tests.
package speechtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"yuzu/concierge/internal/speech"
)

// Trace is an ordered log of named steps shared between fakes.
type Trace struct {
	mu    sync.Mutex
	steps []Step
}

type Step struct {
	Name string
	At   time.Time
}

func (t *Trace) Mark(name string) {
	t.mu.Lock()
	t.steps = append(t.steps, Step{Name: name, At: time.Now()})
	t.mu.Unlock()
}

func (t *Trace) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

func (t *Trace) Names() []string {
	var out []string
	for _, s := range t.Steps() {
		out = append(out, s.Name)
	}
	return out
}

// Index returns the position of the first step with the given name, or -1.
func (t *Trace) Index(name string) int {
	for i, s := range t.Steps() {
		if s.Name == name {
			return i
		}
	}
	return -1
}

type Spoken struct {
	Utterance speech.Utterance
	Handle    *speech.Handle
}

// Recorder records every utterance. With Hold set, handles stay open until
// Release; otherwise they finish after Delay.
type Recorder struct {
	Delay time.Duration
	Hold  bool
	Err   error
	Trace *Trace

	mu     sync.Mutex
	spoken []Spoken
	signal chan struct{}
}

func (r *Recorder) Speak(ctx context.Context, u speech.Utterance) (*speech.Handle, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	h := speech.NewHandle(fmt.Sprintf("utt-%d", len(r.spoken)+1))
	r.spoken = append(r.spoken, Spoken{Utterance: u, Handle: h})
	if r.signal != nil {
		close(r.signal)
		r.signal = nil
	}
	hold := r.Hold
	r.mu.Unlock()

	r.mark("start:" + string(u.Kind))
	if hold {
		return h, nil
	}
	go func() {
		if r.Delay > 0 {
			time.Sleep(r.Delay)
		}
		r.mark("end:" + string(u.Kind))
		h.Finish(false, nil)
	}()
	return h, nil
}

func (r *Recorder) mark(name string) {
	if r.Trace != nil {
		r.Trace.Mark(name)
	}
}

// Release finishes the i-th held utterance.
func (r *Recorder) Release(i int) {
	r.mu.Lock()
	s := r.spoken[i]
	r.mu.Unlock()
	r.mark("end:" + string(s.Utterance.Kind))
	s.Handle.Finish(false, nil)
}

// WaitSpoken blocks until at least n utterances have been issued.
func (r *Recorder) WaitSpoken(ctx context.Context, n int) error {
	for {
		r.mu.Lock()
		if len(r.spoken) >= n {
			r.mu.Unlock()
			return nil
		}
		if r.signal == nil {
			r.signal = make(chan struct{})
		}
		ch := r.signal
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Recorder) Spoken() []Spoken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Spoken, len(r.spoken))
	copy(out, r.spoken)
	return out
}

func (r *Recorder) Texts() []string {
	var out []string
	for _, s := range r.Spoken() {
		out = append(out, s.Utterance.Text)
	}
	return out
}
