package persona

import (
	"errors"
	"strings"
	"testing"
)

func testVoices() Voices {
	return Voices{Router: "v-nick", Support: "v-raju", Booking: "v-chutki"}
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(testVoices())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	d, err := r.Lookup(Booking)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.DisplayName != "Chutki" || d.VoiceID != "v-chutki" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if _, err := r.Lookup("billing"); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("expected ErrUnknownPersona, got %v", err)
	}
}

func TestRegistryRejectsMissingVoice(t *testing.T) {
	v := testVoices()
	v.Support = ""
	if _, err := NewRegistry(v); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestRegistryRejectsBadTopology(t *testing.T) {
	descs := Defaults(testVoices())
	descs[0].Allowed[ToRouter] = true
	if _, err := NewRegistryFrom(descs); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("router self transition should be rejected, got %v", err)
	}

	descs = Defaults(testVoices())
	delete(descs[1].Allowed, ToRouter)
	if _, err := NewRegistryFrom(descs); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("support without to_router should be rejected, got %v", err)
	}

	descs = Defaults(testVoices())
	descs = append(descs, Descriptor{Name: "billing", VoiceID: "x"})
	if _, err := NewRegistryFrom(descs); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("extra persona should be rejected, got %v", err)
	}

	if _, err := NewRegistryFrom(Defaults(testVoices())[:2]); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("missing booking should be rejected, got %v", err)
	}
}

func TestRenderInstructions(t *testing.T) {
	r, _ := NewRegistry(testVoices())
	d := r.MustLookup(Support)
	got := d.Instructions("wifi issue")
	if !strings.Contains(got, "The user is facing an issue with: wifi issue.") {
		t.Fatalf("topic not substituted: %q", got)
	}
	if strings.Contains(got, "{topic}") {
		t.Fatalf("placeholder left behind: %q", got)
	}
	router := r.MustLookup(Router)
	if router.Instructions("ignored") != router.InstructionsTemplate {
		t.Fatalf("router instructions should be topic independent")
	}
}

func TestGreetings(t *testing.T) {
	r, _ := NewRegistry(testVoices())
	router := r.MustLookup(Router)
	if got := router.Greeting("", false); got != "Hi there! My name is Nick. How can I assist you today?" {
		t.Fatalf("first greeting: %q", got)
	}
	if got := router.Greeting("", true); !strings.HasPrefix(got, "Hi again, welcome back!") {
		t.Fatalf("return greeting: %q", got)
	}
	booking := r.MustLookup(Booking)
	if got := booking.Greeting("dentist appointment", true); !strings.Contains(got, "want to book dentist appointment") {
		t.Fatalf("booking greeting: %q", got)
	}
}

func TestNotices(t *testing.T) {
	r, _ := NewRegistry(testVoices())
	if got := r.MustLookup(Booking).Notice("dentist appointment"); got != "Connecting you to Chutki, our booking agent, regarding dentist appointment." {
		t.Fatalf("booking notice: %q", got)
	}
	if got := r.MustLookup(Router).Notice("whatever"); got != "Connecting you back to Nick." {
		t.Fatalf("router notice: %q", got)
	}
}

func TestToolsFor(t *testing.T) {
	r, _ := NewRegistry(testVoices())
	names := func(ts []Tool) string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Name)
		}
		return strings.Join(out, ",")
	}
	if got := names(ToolsFor(r.MustLookup(Router))); got != "call_support_agent,call_booking_agent,end_conversation" {
		t.Fatalf("router tools: %s", got)
	}
	if got := names(ToolsFor(r.MustLookup(Support))); got != "call_nick,end_conversation" {
		t.Fatalf("support tools: %s", got)
	}
}

func TestRequestFromCall(t *testing.T) {
	r, _ := NewRegistry(testVoices())
	router := r.MustLookup(Router)

	req, err := RequestFromCall(router, ToolCall{Name: "call_booking_agent", Args: map[string]any{"appointment_topic": " dentist appointment "}})
	if err != nil {
		t.Fatalf("booking call: %v", err)
	}
	if req.Kind != ToBooking || req.Topic != "dentist appointment" {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := RequestFromCall(router, ToolCall{Name: "call_nick"}); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("router must not expose call_nick, got %v", err)
	}

	req, err = RequestFromCall(r.MustLookup(Support), ToolCall{Name: "end_conversation"})
	if err != nil || req.Kind != End {
		t.Fatalf("end call: %+v %v", req, err)
	}
}
