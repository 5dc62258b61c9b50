// Package persona holds the static descriptors of the three conversational
// roles (router, support, booking) and the tool surface each one exposes.
package persona

import (
	"errors"
	"fmt"
	"strings"
)

type Name string

const (
	Router  Name = "router"
	Support Name = "support"
	Booking Name = "booking"
)

// TransitionKind is the closed set of hand-offs a reasoning step may request.
type TransitionKind string

const (
	ToSupport TransitionKind = "to_support"
	ToBooking TransitionKind = "to_booking"
	ToRouter  TransitionKind = "to_router"
	End       TransitionKind = "end"
)

// Target returns the persona a kind hands off to. End has no target.
func (k TransitionKind) Target() (Name, bool) {
	switch k {
	case ToSupport:
		return Support, true
	case ToBooking:
		return Booking, true
	case ToRouter:
		return Router, true
	}
	return "", false
}

// NeedsTopic reports whether a request of this kind must carry a topic.
func (k TransitionKind) NeedsTopic() bool { return k == ToSupport || k == ToBooking }

// TransitionRequest is produced by a reasoning step's tool call.
type TransitionRequest struct {
	Kind  TransitionKind
	Topic string
}

var (
	ErrUnknownPersona    = errors.New("unknown persona")
	ErrInvalidDescriptor = errors.New("invalid persona descriptor")
)

// Descriptor is immutable once the registry is built.
type Descriptor struct {
	Name        Name
	DisplayName string
	// Title is used in transfer notices, e.g. "our support agent".
	Title                string
	InstructionsTemplate string
	GreetingTemplate     string
	// ReturnGreeting replaces GreetingTemplate when the user has already spoken.
	ReturnGreeting string
	VoiceID        string
	Allowed        map[TransitionKind]bool
}

func (d Descriptor) Allows(k TransitionKind) bool { return d.Allowed[k] }

func (d Descriptor) Instructions(topic string) string {
	return RenderInstructions(d.InstructionsTemplate, topic)
}

// Greeting picks the opening line for a persona entering the conversation.
func (d Descriptor) Greeting(topic string, returning bool) string {
	if returning && d.ReturnGreeting != "" {
		return d.ReturnGreeting
	}
	return RenderInstructions(d.GreetingTemplate, topic)
}

// Notice is what the outgoing persona says before the switch becomes visible.
func (d Descriptor) Notice(topic string) string {
	if d.Name == Router {
		return fmt.Sprintf("Connecting you back to %s.", d.DisplayName)
	}
	return fmt.Sprintf("Connecting you to %s, %s, regarding %s.", d.DisplayName, d.Title, topic)
}

// RenderInstructions substitutes the single {topic} parameter.
func RenderInstructions(template, topic string) string {
	return strings.ReplaceAll(template, "{topic}", topic)
}

// Voices carries the synthesis voice per persona, from config.
type Voices struct {
	Router  string
	Support string
	Booking string
}

const languageRule = "You MUST ONLY respond in English. NEVER output Chinese, Hindi, or any non-English text. " +
	"If you are unsure what language to use, use English. "

const returnProtocol = "2. Ask the user: 'Would you like me to connect you back to Nick?' " +
	"3. Wait for the user to respond. " +
	"Do NOT call any tool until the user explicitly tells you what they want to do next. " +
	"If the user says yes to connecting to Nick, THEN call the tool call_nick. " +
	"If the user says 'end conversation', 'goodbye', or wants to stop at ANY point, " +
	"call end_conversation immediately."

// Defaults returns the built-in descriptors bound to the given voices.
func Defaults(v Voices) []Descriptor {
	return []Descriptor{
		{
			Name:        Router,
			DisplayName: "Nick",
			Title:       "our main assistant",
			InstructionsTemplate: "You are a helpful voice AI assistant named Nick. " + languageRule +
				"Your role is to route users to the right agent. " +
				"If the user mentions ANY technical issue, problem, or needs help fixing something, " +
				"IMMEDIATELY call the tool call_support_agent. Do NOT troubleshoot or discuss the issue yourself. " +
				"If the user mentions wanting to book, schedule, or make an appointment, " +
				"IMMEDIATELY call the tool call_booking_agent. Do NOT handle the booking yourself. " +
				"If the user wants to end the conversation, says goodbye, or says 'end conversation', " +
				"call the tool end_conversation to disconnect. " +
				"If the user just says hello or asks a general question, respond normally. " +
				"Do NOT treat greetings like 'hello', 'hi', or 'hey' as technical issues.",
			GreetingTemplate: "Hi there! My name is Nick. How can I assist you today?",
			ReturnGreeting:   "Hi again, welcome back! Is there anything else I can help you with?",
			VoiceID:          v.Router,
			Allowed:          map[TransitionKind]bool{ToSupport: true, ToBooking: true, End: true},
		},
		{
			Name:        Support,
			DisplayName: "Raju",
			Title:       "our support agent",
			InstructionsTemplate: "You are a support voice AI assistant named Raju. " + languageRule +
				"The user is facing an issue with: {topic}. " +
				"Help the user resolve their technical issue step by step. " +
				"When the user says the issue is resolved, you MUST do the following: " +
				"1. Acknowledge that the issue is resolved with a complete sentence. " + returnProtocol,
			GreetingTemplate: "Hi, I am Raju, your support agent. I understand you are facing an issue with {topic}. Let me help you with that.",
			VoiceID:          v.Support,
			Allowed:          map[TransitionKind]bool{ToRouter: true, End: true},
		},
		{
			Name:        Booking,
			DisplayName: "Chutki",
			Title:       "our booking agent",
			InstructionsTemplate: "You are a booking voice AI assistant named Chutki. " + languageRule +
				"The user wants to book: {topic}. " +
				"Help the user with their booking step by step. " +
				"When the booking is complete, you MUST do the following: " +
				"1. Confirm the booking details with a complete sentence. " + returnProtocol,
			GreetingTemplate: "Hi, I am Chutki, your booking agent. I understand you want to book {topic}. Let me help you with that.",
			VoiceID:          v.Booking,
			Allowed:          map[TransitionKind]bool{ToRouter: true, End: true},
		},
	}
}
