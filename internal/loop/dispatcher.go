// Package loop drives the media worker for each session: it issues speech
// commands, tracks playback through the floor manager, applies barge-in,
// and routes final transcripts to the conversation.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yuzu/concierge/internal/floor"
	"yuzu/concierge/internal/speech"
	"yuzu/concierge/internal/store"
	"yuzu/concierge/internal/workerws"
)

var (
	ErrTTSTimeout      = errors.New("tts did not finish in time")
	ErrWorkerRestarted = errors.New("worker restarted during playback")
	ErrSessionClosed   = errors.New("session closed")
)

// Sender delivers commands to a session's worker.
type Sender interface {
	SendJSON(ctx context.Context, sessionID string, v any) error
}

type Dispatcher struct {
	sender Sender
	store  *store.Store
	logger *zap.Logger

	ttsTimeout time.Duration

	// OnTranscript receives final user transcripts, one at a time per session.
	OnTranscript func(sessionID, text string)
	// OnWorkerReady fires when a worker says hello.
	OnWorkerReady func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*sessState
	// forgotten holds closed session ids, oldest first in order, so late
	// worker traffic cannot bring their state back.
	forgotten map[string]struct{}
	order     []string
}

// maxForgotten bounds how many closed session ids are remembered.
const maxForgotten = 1024

type pendingUtt struct {
	handle        *speech.Handle
	interruptible bool
	kind          speech.Kind
	timer         *time.Timer
}

type sessState struct {
	mu            sync.Mutex
	fsm           *floor.Manager
	pending       map[string]*pendingUtt
	lastVADTsMs   int64
	lastVADRecvMs int64
	stopping      bool
	pendingCmdID  string
	ttsStartRecv  time.Time
	bargeInArmed  bool
	closed        bool

	turns chan string
}

func New(sender Sender, st *store.Store, ttsTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttsTimeout <= 0 {
		ttsTimeout = 60 * time.Second
	}
	return &Dispatcher{sender: sender, store: st, ttsTimeout: ttsTimeout, logger: logger.Named("loop"), sessions: make(map[string]*sessState), forgotten: make(map[string]struct{})}
}

// state returns the session's state, creating it on first use. It returns
// nil once the session has been forgotten.
func (d *Dispatcher) state(sessionID string) *sessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sessions[sessionID]
	if s == nil {
		if _, gone := d.forgotten[sessionID]; gone {
			return nil
		}
		s = &sessState{fsm: floor.New(), pending: make(map[string]*pendingUtt)}
		d.sessions[sessionID] = s
	}
	return s
}

// Speak sends start_tts and returns a handle resolved by the matching
// tts_stopped.
func (d *Dispatcher) Speak(ctx context.Context, sessionID string, u speech.Utterance) (*speech.Handle, error) {
	s := d.state(sessionID)
	if s == nil {
		return nil, ErrSessionClosed
	}
	id := uuid.New().String()
	h := speech.NewHandle(id)
	p := &pendingUtt{handle: h, interruptible: u.Interruptible, kind: u.Kind}
	p.timer = time.AfterFunc(d.ttsTimeout, func() { d.expire(sessionID, id) })

	s.mu.Lock()
	s.pending[id] = p
	s.mu.Unlock()

	out := workerws.Message{
		Type:        "start_tts",
		TsMs:        time.Now().UnixMilli(),
		SessionID:   sessionID,
		CommandID:   uuid.New().String(),
		UtteranceID: id,
		Payload: map[string]any{
			"text":          u.Text,
			"voice_id":      u.VoiceID,
			"interruptible": u.Interruptible,
			"kind":          string(u.Kind),
		},
	}
	if err := d.sender.SendJSON(ctx, sessionID, out); err != nil {
		d.resolve(s, id, false, err)
		return nil, err
	}
	metricUtterances.WithLabelValues(string(u.Kind)).Inc()
	d.store.AppendEvent(sessionID, "start_tts_sent", map[string]any{"utterance_id": id, "kind": string(u.Kind), "interruptible": u.Interruptible})
	return h, nil
}

// SessionSpeaker binds the dispatcher to one session.
func (d *Dispatcher) SessionSpeaker(sessionID string) speech.Speaker {
	return sessionSpeaker{d: d, id: sessionID}
}

type sessionSpeaker struct {
	d  *Dispatcher
	id string
}

func (s sessionSpeaker) Speak(ctx context.Context, u speech.Utterance) (*speech.Handle, error) {
	return s.d.Speak(ctx, s.id, u)
}

func (d *Dispatcher) resolve(s *sessState, id string, interrupted bool, err error) {
	s.mu.Lock()
	p := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if p == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.handle.Finish(interrupted, err)
}

func (d *Dispatcher) expire(sessionID, id string) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.pending[id]
	if ok {
		if cur, speaking := s.fsm.Speaking(); speaking && cur == id {
			s.fsm = floor.New()
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	metricTTSTimeouts.Inc()
	d.logger.Warn("tts timeout", zap.String("session_id", sessionID), zap.String("utterance_id", id))
	d.store.AppendEvent(sessionID, "tts_timeout_reset", map[string]any{"utterance_id": id})
	d.resolve(s, id, false, ErrTTSTimeout)
}

// Forget fails anything still pending and drops the session's state. Later
// messages and speech for sessionID are ignored.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	if _, gone := d.forgotten[sessionID]; !gone {
		d.forgotten[sessionID] = struct{}{}
		d.order = append(d.order, sessionID)
		if len(d.order) > maxForgotten {
			delete(d.forgotten, d.order[0])
			d.order = d.order[1:]
		}
	}
	d.mu.Unlock()
	if s == nil {
		return
	}
	d.failPending(s, ErrSessionClosed)
	s.mu.Lock()
	s.closed = true
	if s.turns != nil {
		close(s.turns)
		s.turns = nil
	}
	s.mu.Unlock()
}

func (d *Dispatcher) failPending(s *sessState, err error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		d.resolve(s, id, false, err)
	}
}

// OnMessage processes a worker message and may send commands to the worker.
func (d *Dispatcher) OnMessage(sessionID string, msg workerws.Message) {
	s := d.state(sessionID)
	if s == nil {
		d.logger.Debug("message for closed session", zap.String("session_id", sessionID), zap.String("type", msg.Type))
		return
	}
	nowRecvMs := time.Now().UnixMilli()

	switch msg.Type {
	case "tts_started":
		s.mu.Lock()
		interruptible := true
		if p, ok := s.pending[msg.UtteranceID]; ok {
			interruptible = p.interruptible
		} else if v, ok := msg.Bool("interruptible"); ok {
			interruptible = v
		}
		s.fsm.OnTTSStarted(msg.UtteranceID, interruptible, msg.TsMs)
		s.ttsStartRecv = time.Now()
		s.bargeInArmed = false
		s.mu.Unlock()
		d.store.AppendEvent(sessionID, "tts_started_backend_recv", map[string]any{"recv_ms": nowRecvMs})
	case "tts_first_audio":
		// Arm barge-in only after first audio is emitted, to avoid prebuffer cut-offs
		s.mu.Lock()
		s.bargeInArmed = true
		s.mu.Unlock()
		d.store.AppendEvent(sessionID, "tts_first_audio_backend_recv", map[string]any{"recv_ms": nowRecvMs})
	case "tts_stopped":
		reason := msg.Str("reason")
		s.mu.Lock()
		s.fsm.OnTTSStopped(msg.UtteranceID, msg.TsMs, reason)
		s.bargeInArmed = false
		s.ttsStartRecv = time.Time{}
		if reason == "interrupted" && s.lastVADTsMs > 0 {
			d.store.AppendEvent(sessionID, "barge_in_latency", map[string]any{
				"worker_ms": msg.TsMs - s.lastVADTsMs, "backend_ms": nowRecvMs - s.lastVADRecvMs,
				"utterance_id": msg.UtteranceID, "vad_ts_ms": s.lastVADTsMs, "tts_stop_ts_ms": msg.TsMs,
			})
		}
		s.stopping = false
		s.pendingCmdID = ""
		s.mu.Unlock()
		if e := msg.Str("error"); e != "" {
			d.resolve(s, msg.UtteranceID, false, errors.New(e))
		} else {
			d.resolve(s, msg.UtteranceID, reason == "interrupted", nil)
		}
	case "vad_start":
		source := msg.Str("source")
		s.mu.Lock()
		s.lastVADTsMs = msg.TsMs
		s.lastVADRecvMs = nowRecvMs
		dec := s.fsm.OnVADStart(msg.TsMs)
		send := s.bargeInArmed && (source == "candidate_audio" || source == "debug") && dec.ShouldStop && !s.stopping
		cmdID := ""
		if send {
			s.stopping = true
			cmdID = uuid.New().String()
			s.pendingCmdID = cmdID
		}
		s.mu.Unlock()
		if dec.Suppressed {
			metricBargeInSuppressed.Inc()
			d.store.AppendEvent(sessionID, "barge_in_suppressed", map[string]any{"utterance_id": dec.StopUtteranceID})
		}
		if send {
			out := workerws.Message{
				Type:        "stop_tts",
				TsMs:        time.Now().UnixMilli(),
				SessionID:   sessionID,
				CommandID:   cmdID,
				UtteranceID: dec.StopUtteranceID,
				Payload:     map[string]any{"mode": "current"},
			}
			// Best-effort send; append event regardless
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = d.sender.SendJSON(ctx, sessionID, out)
			cancel()
			metricBargeIn.Inc()
			d.store.AppendEvent(sessionID, "stop_tts_sent", map[string]any{"command_id": cmdID, "utterance_id": dec.StopUtteranceID})
		}
	case "vad_end":
		s.mu.Lock()
		s.fsm.OnVADEnd(msg.TsMs)
		s.mu.Unlock()
	case "cmd_ack":
		s.mu.Lock()
		expected := msg.CommandID != "" && msg.CommandID == s.pendingCmdID
		s.mu.Unlock()
		if expected {
			d.store.AppendEvent(sessionID, "cmd_ack", map[string]any{"command_id": msg.CommandID})
		} else {
			d.store.AppendEvent(sessionID, "cmd_ack", map[string]any{"command_id": msg.CommandID, "note": "unexpected"})
		}
	case "transcript_final":
		if text := msg.Str("text"); text != "" {
			d.enqueueTurn(sessionID, s, text)
		}
	case "worker_hello":
		// Reset speaking unless worker immediately restates playback
		s.mu.Lock()
		s.fsm = floor.New()
		s.stopping = false
		s.pendingCmdID = ""
		s.ttsStartRecv = time.Time{}
		s.mu.Unlock()
		d.failPending(s, ErrWorkerRestarted)
		if d.OnWorkerReady != nil {
			go d.OnWorkerReady(sessionID)
		}
	}

	// Safety reset of the floor; pending handles have their own timers.
	s.mu.Lock()
	if !s.ttsStartRecv.IsZero() && time.Since(s.ttsStartRecv) > d.ttsTimeout {
		s.fsm = floor.New()
		s.stopping = false
		s.pendingCmdID = ""
		s.ttsStartRecv = time.Time{}
		s.mu.Unlock()
		d.store.AppendEvent(sessionID, "tts_timeout_reset", nil)
		return
	}
	s.mu.Unlock()
}

// enqueueTurn hands transcripts to OnTranscript on a per-session goroutine so
// the worker read loop keeps resolving playback while a turn is processed.
func (d *Dispatcher) enqueueTurn(sessionID string, s *sessState, text string) {
	if d.OnTranscript == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.turns == nil {
		s.turns = make(chan string, 16)
		go func(ch <-chan string) {
			for t := range ch {
				d.OnTranscript(sessionID, t)
			}
		}(s.turns)
	}
	ch := s.turns
	select {
	case ch <- text:
	default:
		d.logger.Warn("turn queue full, dropping transcript", zap.String("session_id", sessionID))
		d.store.AppendEvent(sessionID, "transcript_dropped", map[string]any{"text": text})
	}
	s.mu.Unlock()
}
