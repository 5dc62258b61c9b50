package persona

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTool = errors.New("tool not bound to persona")

// Tool is a function the reasoning step may call. TopicParam is empty for
// tools that take no arguments.
type Tool struct {
	Name        string
	Description string
	Kind        TransitionKind
	TopicParam  string
	TopicHelp   string
}

// ToolCall is a reasoning step's request to invoke a tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

var catalog = []Tool{
	{
		Name:        "call_support_agent",
		Description: "Transfer the user to Raju the support agent. Call this IMMEDIATELY when the user has any technical issue.",
		Kind:        ToSupport,
		TopicParam:  "topic",
		TopicHelp:   "A brief description of the technical issue the user is facing.",
	},
	{
		Name:        "call_booking_agent",
		Description: "Transfer the user to Chutki the booking agent. Call this IMMEDIATELY when the user wants to book an appointment.",
		Kind:        ToBooking,
		TopicParam:  "appointment_topic",
		TopicHelp:   "A brief description of what the user wants to book.",
	},
	{
		Name:        "call_nick",
		Description: "Transfer the user back to Nick the main assistant. Call this when the user wants to talk to Nick again.",
		Kind:        ToRouter,
	},
	{
		Name:        "end_conversation",
		Description: "End the conversation and disconnect the user. Call this when the user says goodbye, end conversation, or wants to stop talking.",
		Kind:        End,
	},
}

// ToolsFor returns only the tools whose transition the persona allows.
func ToolsFor(d Descriptor) []Tool {
	out := make([]Tool, 0, len(catalog))
	for _, t := range catalog {
		if d.Allows(t.Kind) {
			out = append(out, t)
		}
	}
	return out
}

// RequestFromCall maps a tool call onto a TransitionRequest. Calls to tools
// the persona does not expose are rejected, never dispatched.
func RequestFromCall(d Descriptor, call ToolCall) (TransitionRequest, error) {
	for _, t := range ToolsFor(d) {
		if t.Name != call.Name {
			continue
		}
		req := TransitionRequest{Kind: t.Kind}
		if t.TopicParam != "" {
			if v, ok := call.Args[t.TopicParam]; ok {
				req.Topic = strings.TrimSpace(fmt.Sprint(v))
			}
		}
		return req, nil
	}
	return TransitionRequest{}, fmt.Errorf("%w: %s has no %q", ErrUnknownTool, d.Name, call.Name)
}
