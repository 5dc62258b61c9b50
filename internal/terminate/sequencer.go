// Package terminate runs the ordered shutdown of a conversation: drain any
// in-flight speech, say goodbye, wait out the grace interval, then tear the
// room down exactly once.
package terminate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/speech"
)

const (
	DefaultGoodbye = "Goodbye! Have a great day!"
	DefaultGrace   = 3 * time.Second
	MinGrace       = 2 * time.Second
)

// ErrTeardown wraps a failed room deletion. It is a warning: the session is
// over regardless.
var ErrTeardown = errors.New("room teardown failed")

// RoomDeleter is the transport's room control. Implementations must be
// idempotent; the sequencer never retries.
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, name string) error
}

// Sleeper waits out the grace interval. Tests substitute a recording fake.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Config struct {
	Room    string
	Goodbye string
	Grace   time.Duration
}

// Step names reported to the OnStep hook, in order.
const (
	StepDrained    = "drained"
	StepGoodbye    = "goodbye_done"
	StepGraceDone  = "grace_done"
	StepTeardown   = "teardown_issued"
	StepTerminated = "terminated"
)

type Sequencer struct {
	ch     *speech.Channel
	rooms  RoomDeleter
	cfg    Config
	voice  func() string
	logger *zap.Logger

	Sleep  Sleeper
	OnStep func(step string, at time.Time)

	once    sync.Once
	started chan struct{}
	done    chan struct{}
	err     error
}

// New builds a sequencer for one session. voice is read once, when the
// sequence begins, and the goodbye is spoken in that voice.
func New(ch *speech.Channel, rooms RoomDeleter, cfg Config, voice func() string, logger *zap.Logger) *Sequencer {
	if cfg.Goodbye == "" {
		cfg.Goodbye = DefaultGoodbye
	}
	if cfg.Grace < MinGrace {
		cfg.Grace = DefaultGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		ch:      ch,
		rooms:   rooms,
		cfg:     cfg,
		voice:   voice,
		logger:  logger.Named("terminate").With(zap.String("room", cfg.Room)),
		Sleep:   sleepCtx,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Started is closed as soon as termination begins; no persona logic may run
// after that.
func (s *Sequencer) Started() <-chan struct{} { return s.started }

func (s *Sequencer) Done() <-chan struct{} { return s.done }

func (s *Sequencer) IsStarted() bool {
	select {
	case <-s.started:
		return true
	default:
		return false
	}
}

// Begin starts the sequence if it is not already running and returns
// without waiting. Started is closed when Begin returns.
func (s *Sequencer) Begin(ctx context.Context) {
	s.once.Do(func() {
		voice := ""
		if s.voice != nil {
			voice = s.voice()
		}
		close(s.started)
		go func() {
			// Caller cancellation does not stop the sequence.
			s.err = s.run(context.WithoutCancel(ctx), voice)
			close(s.done)
		}()
	})
}

// Err is the result of the finished sequence. It is nil until Done is closed.
func (s *Sequencer) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Terminate runs the sequence once. Later and concurrent callers wait for
// the first run and get its result. A returned error wrapping ErrTeardown is
// a warning.
func (s *Sequencer) Terminate(ctx context.Context) error {
	s.Begin(ctx)
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) run(ctx context.Context, voice string) error {
	begin := time.Now()
	metricTerminations.Inc()

	if err := s.ch.Drain(ctx); err != nil {
		s.logger.Warn("drain in-flight speech", zap.Error(err))
	}
	s.step(StepDrained)

	if err := s.ch.SpeakAndWait(ctx, speech.Utterance{Text: s.cfg.Goodbye, VoiceID: voice, Interruptible: false, Kind: speech.KindGoodbye}); err != nil {
		// The room still has to go.
		s.logger.Warn("goodbye not delivered", zap.Error(err))
	}
	s.step(StepGoodbye)

	if err := s.Sleep(ctx, s.cfg.Grace); err != nil {
		s.logger.Warn("grace interval interrupted", zap.Error(err))
	}
	s.step(StepGraceDone)

	s.step(StepTeardown)
	err := s.rooms.DeleteRoom(ctx, s.cfg.Room)
	metricTerminationMs.Observe(float64(time.Since(begin).Milliseconds()))
	s.step(StepTerminated)
	if err != nil {
		metricTeardownFailures.Inc()
		s.logger.Warn("room teardown failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTeardown, err)
	}
	s.logger.Info("session terminated", zap.Duration("took", time.Since(begin)))
	return nil
}

func (s *Sequencer) step(name string) {
	if s.OnStep != nil {
		s.OnStep(name, time.Now())
	}
}
