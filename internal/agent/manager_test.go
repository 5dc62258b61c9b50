package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerOpenCloseShutdown(t *testing.T) {
	h := newHarness(t, false)
	m, err := NewManager(h.deps)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	var mu sync.Mutex
	var closed []string
	m.OnClosed = func(id string) {
		mu.Lock()
		closed = append(closed, id)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, err := m.Open("a", "room-a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := m.Open("a", "room-a"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if _, err := m.Open("b", "room-b"); err != nil {
		t.Fatalf("open b: %v", err)
	}
	if got, ok := m.Get("a"); !ok || got != a {
		t.Fatalf("get a")
	}

	if err := m.Close(ctx, "a"); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatalf("a should be forgotten")
	}
	if err := m.Close(ctx, "a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected no live sessions, got %d", m.Len())
	}
	if h.rooms.count() != 2 {
		t.Fatalf("expected two teardowns, got %d", h.rooms.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 2 {
		t.Fatalf("expected two close callbacks, got %v", closed)
	}
}

func TestManagerRequiresProviders(t *testing.T) {
	h := newHarness(t, false)
	deps := h.deps
	deps.Reasoner = nil
	if _, err := NewManager(deps); err == nil {
		t.Fatalf("expected error without reasoner")
	}
}

func TestManagerCloseDeadlineKeepsGoodbye(t *testing.T) {
	h := newHarness(t, true)
	m, err := NewManager(h.deps)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	closed := make(chan int, 1)
	m.OnClosed = func(string) { closed <- h.rooms.count() }
	s, err := m.Open("a", "room-a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Close(short, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	select {
	case n := <-closed:
		t.Fatalf("closed while the goodbye was playing (teardowns=%d)", n)
	default:
	}
	if _, ok := m.Get("a"); !ok {
		t.Fatalf("session dropped before it ended")
	}
	wait, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := h.rec.WaitSpoken(wait, 1); err != nil || h.rec.Spoken()[0].Handle.Finished() {
		t.Fatalf("goodbye should still be playing")
	}

	h.rec.Release(0)
	select {
	case n := <-closed:
		if n != 1 {
			t.Fatalf("expected teardown before close callback, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session never dropped")
	}
	<-s.Ended()
	if !m.IsEnded("a") || m.Len() != 0 {
		t.Fatalf("expected a tombstone and no live sessions")
	}
	if _, err := m.Open("a", "room-a"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("ended id must not be reopened, got %v", err)
	}
}
