// Package agent is the session entry point the host calls: it owns one
// conversation's active role, context, speech channel and termination
// sequence, and turns reasoning decisions into speech and hand-offs.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/handoff"
	"yuzu/concierge/internal/persona"
	"yuzu/concierge/internal/reasoning"
	"yuzu/concierge/internal/speech"
	"yuzu/concierge/internal/store"
	"yuzu/concierge/internal/terminate"
	"yuzu/concierge/internal/types"
)

var ErrSessionEnded = errors.New("session has ended")

const (
	clarifyTopic = "Could you tell me a little more about what you need help with?"
	apology      = "Sorry, I didn't catch that. Could you say it again?"

	flushTimeout = 5 * time.Second
)

// Flusher is implemented by sinks that deliver asynchronously.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Deps are the process-wide providers shared by every session.
type Deps struct {
	Registry *persona.Registry
	Reasoner reasoning.Reasoner
	Rooms    terminate.RoomDeleter
	// Speakers returns the speech output for a session.
	Speakers func(sessionID string) speech.Speaker
	Sink     conversation.Sink
	Store    *store.Store
	Logger   *zap.Logger

	Grace   time.Duration
	Goodbye string
	// Sleep overrides the grace wait; nil uses a timer.
	Sleep terminate.Sleeper
	// OnStep observes termination steps.
	OnStep func(sessionID, step string, at time.Time)
}

func (d Deps) validate() error {
	switch {
	case d.Registry == nil:
		return errors.New("agent: persona registry is required")
	case d.Reasoner == nil:
		return errors.New("agent: reasoner is required")
	case d.Rooms == nil:
		return errors.New("agent: room client is required")
	case d.Speakers == nil:
		return errors.New("agent: speaker factory is required")
	}
	return nil
}

type Session struct {
	id   string
	room string
	deps Deps

	role   *handoff.ActiveRole
	convo  *conversation.Context
	ch     *speech.Channel
	ctrl   *handoff.Controller
	seq    *terminate.Sequencer
	logger *zap.Logger

	// gate orders persona speech against the start of termination.
	gate       sync.Mutex
	turnMu     sync.Mutex
	startOnce  sync.Once
	startErr   error
	started    atomic.Bool
	// ended is closed once teardown has run and the session is finalised.
	ended      chan struct{}
}

// NewSession builds a session that starts as the router with no topic.
func NewSession(id, room string, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	role, err := handoff.NewActiveRole(deps.Registry)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.Named("agent").With(zap.String("session_id", id))
	s := &Session{
		id:     id,
		room:   room,
		deps:   deps,
		role:   role,
		convo:  conversation.New(id, deps.Sink),
		ch:     speech.NewChannel(deps.Speakers(id)),
		ctrl:   handoff.NewController(deps.Registry, deps.Logger),
		logger: logger,
		ended:  make(chan struct{}),
	}
	s.seq = terminate.New(s.ch, deps.Rooms, terminate.Config{
		Room:    room,
		Goodbye: deps.Goodbye,
		Grace:   deps.Grace,
	}, func() string { return s.role.Descriptor().VoiceID }, deps.Logger.With(zap.String("session_id", id)))
	if deps.Sleep != nil {
		s.seq.Sleep = deps.Sleep
	}
	s.seq.OnStep = func(step string, at time.Time) {
		s.event("termination_step", map[string]any{"step": step})
		if deps.OnStep != nil {
			deps.OnStep(id, step, at)
		}
	}
	s.setPersona(role.Descriptor().Name)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Role() *handoff.ActiveRole { return s.role }

func (s *Session) Conversation() *conversation.Context { return s.convo }

// Ended is closed once termination has finished, whoever started it and
// whether or not they are still waiting.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// Start greets the caller as the router. Only the first call speaks.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.turnMu.Lock()
		defer s.turnMu.Unlock()
		d := s.role.Descriptor()
		greeting := d.Greeting(s.role.Topic(), s.convo.HasUserTurns())
		if _, err := s.say(ctx, greeting, d.VoiceID, speech.KindGreeting); err != nil {
			s.startErr = err
			return
		}
		s.assistant(d.Name, greeting)
		s.started.Store(true)
		s.setStatus(types.StatusActive)
		metricSessionsStarted.Inc()
		s.logger.Info("session started", zap.String("persona", string(d.Name)))
	})
	return s.startErr
}

// HandleUserTurn runs one reasoning step for the active persona and acts on
// its decision. Turns are processed one at a time.
func (s *Session) HandleUserTurn(ctx context.Context, text string) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if s.seq.IsStarted() {
		return ErrSessionEnded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.convo.Append(conversation.Turn{Role: conversation.User, Text: text})

	d := s.role.Descriptor()
	step := reasoning.Step{
		Persona:      d.Name,
		Instructions: s.role.Instructions(),
		Tools:        persona.ToolsFor(d),
		History:      s.convo.Turns(),
	}
	dec, err := s.deps.Reasoner.Reason(ctx, step)
	if s.seq.IsStarted() {
		return ErrSessionEnded
	}
	if err != nil {
		metricTurns.WithLabelValues("reasoning_error").Inc()
		s.logger.Warn("reasoning failed", zap.String("persona", string(d.Name)), zap.Error(err))
		s.event("reasoning_error", map[string]any{"error": err.Error()})
		if _, serr := s.say(ctx, apology, d.VoiceID, speech.KindReply); serr != nil {
			s.logger.Debug("apology not spoken", zap.Error(serr))
		}
		return fmt.Errorf("reasoning: %w", err)
	}

	if dec.Call == nil {
		metricTurns.WithLabelValues("reply").Inc()
		if _, err := s.say(ctx, dec.Reply, d.VoiceID, speech.KindReply); err != nil {
			return err
		}
		s.assistant(d.Name, dec.Reply)
		return nil
	}
	return s.handleCall(ctx, d, *dec.Call)
}

func (s *Session) handleCall(ctx context.Context, d persona.Descriptor, call persona.ToolCall) error {
	log := s.logger.With(zap.String("persona", string(d.Name)), zap.String("tool", call.Name))

	req, err := persona.RequestFromCall(d, call)
	if err == nil {
		var out handoff.Outcome
		out, err = s.ctrl.RequestTransition(ctx, gatedSpeaker{s}, s.role, s.convo, req)
		if err == nil {
			return s.applyOutcome(ctx, out)
		}
	}
	if errors.Is(err, ErrSessionEnded) {
		return err
	}
	if !handoff.IsRecoverable(err) {
		metricTurns.WithLabelValues("handoff_error").Inc()
		log.Warn("hand-off failed", zap.Error(err))
		s.event("handoff_failed", map[string]any{"tool": call.Name, "error": err.Error()})
		return err
	}

	metricTurns.WithLabelValues("handoff_rejected").Inc()
	log.Warn("hand-off rejected", zap.Error(err))
	s.event("handoff_rejected", map[string]any{"tool": call.Name, "error": err.Error()})
	if errors.Is(err, handoff.ErrMissingTopic) {
		if _, err := s.say(ctx, clarifyTopic, d.VoiceID, speech.KindReply); err != nil {
			return err
		}
		s.assistant(d.Name, clarifyTopic)
	}
	return nil
}

func (s *Session) applyOutcome(ctx context.Context, out handoff.Outcome) error {
	switch {
	case out.End:
		metricTurns.WithLabelValues("end").Inc()
		s.event("end_requested", map[string]any{"persona": string(out.From)})
		err := s.terminate(ctx)
		if errors.Is(err, terminate.ErrTeardown) {
			return nil
		}
		return err
	case !out.Changed:
		metricTurns.WithLabelValues("noop").Inc()
		return nil
	}

	metricTurns.WithLabelValues("handoff").Inc()
	snap := s.role.Snapshot()
	s.event("handoff", map[string]any{
		"from":   string(out.From),
		"to":     string(out.To),
		"topic":  snap.Topic,
		"notice": out.Notice,
	})
	s.setPersona(out.To)
	if _, err := s.say(ctx, out.Greeting, snap.VoiceID, speech.KindGreeting); err != nil {
		return err
	}
	s.assistant(out.To, out.Greeting)
	return nil
}

// Terminate ends the session. It is safe to call more than once; every
// caller gets the result of the single run. A teardown failure is logged and
// not returned.
func (s *Session) Terminate(ctx context.Context) error {
	err := s.terminate(ctx)
	if errors.Is(err, terminate.ErrTeardown) {
		return nil
	}
	return err
}

// begin marks termination started while holding the speech gate so no
// persona utterance can slip in behind the drain.
func (s *Session) begin(ctx context.Context) {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.seq.IsStarted() {
		return
	}
	s.setStatus(types.StatusEnding)
	s.seq.Begin(ctx)
	go s.finish(context.WithoutCancel(ctx))
}

// terminate waits for the single run. A caller whose ctx expires gets
// ctx.Err() while the sequence and finish carry on.
func (s *Session) terminate(ctx context.Context) error {
	s.begin(ctx)
	select {
	case <-s.ended:
		return s.seq.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) finish(ctx context.Context) {
	<-s.seq.Done()
	if err := s.seq.Err(); err != nil {
		s.event("teardown_failed", map[string]any{"error": err.Error()})
	}
	s.setStatus(types.StatusEnded)
	if f, ok := s.deps.Sink.(Flusher); ok {
		fctx, cancel := context.WithTimeout(ctx, flushTimeout)
		if err := f.Flush(fctx); err != nil {
			s.logger.Warn("transcript flush", zap.Error(err))
		}
		cancel()
	}
	metricSessionsEnded.Inc()
	close(s.ended)
}

// say speaks through the gate. It refuses once termination has begun.
func (s *Session) say(ctx context.Context, text, voice string, kind speech.Kind) (*speech.Handle, error) {
	return s.speak(ctx, speech.Utterance{Text: text, VoiceID: voice, Interruptible: true, Kind: kind})
}

func (s *Session) speak(ctx context.Context, u speech.Utterance) (*speech.Handle, error) {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.seq.IsStarted() {
		return nil, ErrSessionEnded
	}
	return s.ch.Speak(ctx, u)
}

type gatedSpeaker struct{ s *Session }

func (g gatedSpeaker) Speak(ctx context.Context, u speech.Utterance) (*speech.Handle, error) {
	return g.s.speak(ctx, u)
}

func (s *Session) assistant(name persona.Name, text string) {
	s.convo.Append(conversation.Turn{Role: conversation.Assistant, Persona: name, Text: text})
}

func (s *Session) event(typ string, payload map[string]any) {
	if s.deps.Store != nil {
		s.deps.Store.AppendEvent(s.id, typ, payload)
	}
}

func (s *Session) setStatus(status string) {
	if s.deps.Store != nil {
		s.deps.Store.SetStatus(s.id, status)
	}
}

func (s *Session) setPersona(name persona.Name) {
	if s.deps.Store != nil {
		s.deps.Store.SetPersona(s.id, string(name))
	}
}

type State struct {
	SessionID string       `json:"session_id"`
	Room      string       `json:"room_name"`
	Persona   persona.Name `json:"persona"`
	Display   string       `json:"display_name"`
	Topic     string       `json:"topic"`
	VoiceID   string       `json:"voice_id"`
	Turns     int          `json:"turns"`
	Started   bool         `json:"started"`
	Ending    bool         `json:"ending"`
	Ended     bool         `json:"ended"`
}

func (s *Session) State() State {
	snap := s.role.Snapshot()
	st := State{
		SessionID: s.id,
		Room:      s.room,
		Persona:   snap.Persona,
		Display:   snap.Display,
		Topic:     snap.Topic,
		VoiceID:   snap.VoiceID,
		Turns:     s.convo.Len(),
		Started:   s.started.Load(),
		Ending:    s.seq.IsStarted(),
	}
	select {
	case <-s.ended:
		st.Ended = true
	default:
	}
	return st
}
