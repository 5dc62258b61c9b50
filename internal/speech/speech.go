// Package speech is the synthesis surface the conversation core speaks
// through. The media worker does the actual audio; this package only models
// utterances and their completion.
package speech

import (
	"context"
	"errors"
	"sync"
)

type Kind string

const (
	KindReply    Kind = "reply"
	KindGreeting Kind = "greeting"
	KindNotice   Kind = "notice"
	KindGoodbye  Kind = "goodbye"
)

type Utterance struct {
	Text          string
	VoiceID       string
	Interruptible bool
	Kind          Kind
}

// Speaker starts playback and returns immediately with a handle that
// completes when playback ends.
type Speaker interface {
	Speak(ctx context.Context, u Utterance) (*Handle, error)
}

var ErrAbandoned = errors.New("speech abandoned")

type Handle struct {
	ID string

	once        sync.Once
	done        chan struct{}
	interrupted bool
	err         error
}

func NewHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

// Finish completes the handle. Only the first call has any effect.
func (h *Handle) Finish(interrupted bool, err error) {
	h.once.Do(func() {
		h.interrupted = interrupted
		h.err = err
		close(h.done)
	})
}

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Interrupted is only meaningful after Done is closed.
func (h *Handle) Interrupted() bool {
	<-h.done
	return h.interrupted
}

// Wait blocks until playback ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
