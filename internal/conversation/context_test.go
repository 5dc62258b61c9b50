package conversation

import (
	"testing"

	"yuzu/concierge/internal/persona"
)

type recSink struct{ got []Turn }

func (r *recSink) Record(sessionID string, t Turn) { r.got = append(r.got, t) }

func TestAppendKeepsOrder(t *testing.T) {
	sink := &recSink{}
	c := New("s1", sink)
	c.Append(Turn{Role: Assistant, Persona: persona.Router, Text: "hello"})
	c.Append(Turn{Role: User, Text: "my printer is broken"})

	turns := c.Turns()
	if len(turns) != 2 || turns[0].Text != "hello" || turns[1].Role != User {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if turns[0].At.IsZero() {
		t.Fatalf("timestamp not set")
	}
	if len(sink.got) != 2 {
		t.Fatalf("sink saw %d turns", len(sink.got))
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	c := New("s1", nil)
	c.Append(Turn{Role: User, Text: "a"})
	turns := c.Turns()
	turns[0].Text = "mutated"
	if c.Turns()[0].Text != "a" {
		t.Fatalf("context mutated through returned slice")
	}
}

func TestHasUserTurns(t *testing.T) {
	c := New("s1", nil)
	c.Append(Turn{Role: Assistant, Text: "Hi there!"})
	if c.HasUserTurns() {
		t.Fatalf("no user turns yet")
	}
	c.Append(Turn{Role: User, Text: "hi"})
	if !c.HasUserTurns() || c.Len() != 2 {
		t.Fatalf("expected user turn, len=%d", c.Len())
	}
}
