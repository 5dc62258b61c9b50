package terminate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"yuzu/concierge/internal/speech"
	"yuzu/concierge/internal/speech/speechtest"
)

type fakeRooms struct {
	mu    sync.Mutex
	calls []string
	err   error
	trace *speechtest.Trace
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.trace != nil {
		f.trace.Mark("teardown")
	}
	return f.err
}

func (f *fakeRooms) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newSeq(t *testing.T, rec *speechtest.Recorder, rooms *fakeRooms, trace *speechtest.Trace) (*Sequencer, *speech.Channel, *[]time.Duration) {
	t.Helper()
	ch := speech.NewChannel(rec)
	s := New(ch, rooms, Config{Room: "room-1"}, func() string { return "v-nick" }, zaptest.NewLogger(t))
	var slept []time.Duration
	s.Sleep = func(ctx context.Context, d time.Duration) error {
		trace.Mark("grace_start")
		slept = append(slept, d)
		time.Sleep(5 * time.Millisecond)
		trace.Mark("grace_end")
		return nil
	}
	return s, ch, &slept
}

func TestTerminateOrdering(t *testing.T) {
	trace := &speechtest.Trace{}
	rec := &speechtest.Recorder{Hold: true, Trace: trace}
	rooms := &fakeRooms{trace: trace}
	s, ch, slept := newSeq(t, rec, rooms, trace)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// a transfer notice is still playing when termination is requested
	if _, err := ch.Speak(ctx, speech.Utterance{Text: "Connecting you to Raju", Kind: speech.KindNotice}); err != nil {
		t.Fatalf("speak notice: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Terminate(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if n := len(rec.Spoken()); n != 1 {
		t.Fatalf("goodbye started over the notice (%d utterances)", n)
	}
	rec.Release(0)
	if err := rec.WaitSpoken(ctx, 2); err != nil {
		t.Fatalf("goodbye never spoken: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if rooms.count() != 0 {
		t.Fatalf("teardown before goodbye finished")
	}
	rec.Release(1)
	if err := <-done; err != nil {
		t.Fatalf("terminate: %v", err)
	}

	bye := rec.Spoken()[1].Utterance
	if bye.Text != DefaultGoodbye || bye.Interruptible || bye.VoiceID != "v-nick" {
		t.Fatalf("unexpected goodbye %+v", bye)
	}

	t1 := trace.Index("end:notice")
	t2 := trace.Index("end:goodbye")
	t3 := trace.Index("grace_end")
	t4 := trace.Index("teardown")
	if !(t1 >= 0 && t1 < trace.Index("start:goodbye") && t2 < trace.Index("grace_start") && t2 < t3 && t3 < t4) {
		t.Fatalf("bad ordering: %v", trace.Names())
	}
	steps := trace.Steps()
	if !steps[t1].At.Before(steps[t4].At) {
		t.Fatalf("timestamps not increasing")
	}
	if len(*slept) != 1 || (*slept)[0] != DefaultGrace {
		t.Fatalf("expected one %s grace, got %v", DefaultGrace, *slept)
	}
	if rooms.count() != 1 || rooms.calls[0] != "room-1" {
		t.Fatalf("expected exactly one teardown, got %v", rooms.calls)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	trace := &speechtest.Trace{}
	rec := &speechtest.Recorder{Trace: trace}
	rooms := &fakeRooms{}
	s, _, _ := newSeq(t, rec, rooms, trace)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Terminate(ctx); err != nil {
				t.Errorf("terminate: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := s.Terminate(ctx); err != nil {
		t.Fatalf("repeat terminate: %v", err)
	}
	if rooms.count() != 1 {
		t.Fatalf("teardown issued %d times", rooms.count())
	}
	if len(rec.Spoken()) != 1 {
		t.Fatalf("goodbye spoken %d times", len(rec.Spoken()))
	}
	if !s.IsStarted() {
		t.Fatalf("expected started")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("expected done")
	}
}

func TestTeardownFailureIsWarning(t *testing.T) {
	trace := &speechtest.Trace{}
	rec := &speechtest.Recorder{Trace: trace}
	rooms := &fakeRooms{err: errors.New("503 from transport")}
	s, _, _ := newSeq(t, rec, rooms, trace)

	err := s.Terminate(context.Background())
	if !errors.Is(err, ErrTeardown) {
		t.Fatalf("expected ErrTeardown, got %v", err)
	}
	if rooms.count() != 1 {
		t.Fatalf("teardown must not be retried, got %d calls", rooms.count())
	}
}

func TestGraceFloor(t *testing.T) {
	s := New(speech.NewChannel(&speechtest.Recorder{}), &fakeRooms{}, Config{Room: "r", Grace: time.Second}, nil, nil)
	if s.cfg.Grace != DefaultGrace {
		t.Fatalf("grace below minimum should fall back to default, got %s", s.cfg.Grace)
	}
}

func TestGoodbyeFailureStillTearsDown(t *testing.T) {
	trace := &speechtest.Trace{}
	rec := &speechtest.Recorder{Err: errors.New("no worker"), Trace: trace}
	rooms := &fakeRooms{}
	s, _, _ := newSeq(t, rec, rooms, trace)
	if err := s.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if rooms.count() != 1 {
		t.Fatalf("room must still be deleted")
	}
}

func TestGoodbyeVoiceFixedAtBegin(t *testing.T) {
	trace := &speechtest.Trace{}
	rec := &speechtest.Recorder{Hold: true, Trace: trace}
	rooms := &fakeRooms{}
	ch := speech.NewChannel(rec)
	var mu sync.Mutex
	voice := "v-raju"
	s := New(ch, rooms, Config{Room: "room-1"}, func() string {
		mu.Lock()
		defer mu.Unlock()
		return voice
	}, zaptest.NewLogger(t))
	s.Sleep = func(context.Context, time.Duration) error { return nil }
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ch.Speak(ctx, speech.Utterance{Text: "Connecting you back to Nick", Kind: speech.KindNotice}); err != nil {
		t.Fatalf("speak notice: %v", err)
	}
	s.Begin(ctx)
	// the persona switches once the notice ends, after termination began
	mu.Lock()
	voice = "v-nick"
	mu.Unlock()
	rec.Release(0)
	if err := rec.WaitSpoken(ctx, 2); err != nil {
		t.Fatalf("goodbye never spoken: %v", err)
	}
	rec.Release(1)
	if err := s.Terminate(ctx); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if got := rec.Spoken()[1].Utterance.VoiceID; got != "v-raju" {
		t.Fatalf("goodbye voice %q, want the voice active at begin", got)
	}
	if s.Err() != nil {
		t.Fatalf("unexpected result %v", s.Err())
	}
}
