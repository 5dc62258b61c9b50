package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/persona"
)

func routerStep(t *testing.T) Step {
	t.Helper()
	reg, err := persona.NewRegistry(persona.Voices{Router: "a", Support: "b", Booking: "c"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	d := reg.MustLookup(persona.Router)
	return Step{
		Persona:      d.Name,
		Instructions: d.Instructions(""),
		Tools:        persona.ToolsFor(d),
		History: []conversation.Turn{
			{Role: conversation.Assistant, Text: "Hi there! My name is Nick. How can I assist you today?"},
			{Role: conversation.User, Text: "I want to book a dentist appointment"},
		},
	}
}

func TestOpenAIToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ollama" {
			t.Errorf("missing api key header")
		}
		var body struct {
			Model    string           `json:"model"`
			Messages []map[string]any `json:"messages"`
			Tools    []map[string]any `json:"tools"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "qwen2.5:7b" || len(body.Messages) != 3 || body.Messages[0]["role"] != "system" {
			t.Errorf("unexpected request %+v", body)
		}
		if len(body.Tools) != 3 {
			t.Errorf("expected 3 router tools, got %d", len(body.Tools))
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"call_booking_agent","arguments":"{\"appointment_topic\":\"dentist appointment\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1", "ollama", "qwen2.5:7b", time.Second, zaptest.NewLogger(t))
	dec, err := o.Reason(context.Background(), routerStep(t))
	if err != nil {
		t.Fatalf("reason: %v", err)
	}
	if dec.Call == nil || dec.Call.Name != "call_booking_agent" || dec.Call.Args["appointment_topic"] != "dentist appointment" {
		t.Fatalf("unexpected decision %+v", dec)
	}
}

func TestOpenAIReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Hello! "}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL, "", "m", time.Second, nil)
	dec, err := o.Reason(context.Background(), routerStep(t))
	if err != nil || dec.Reply != "Hello!" || dec.Call != nil {
		t.Fatalf("unexpected %+v %v", dec, err)
	}
}

func TestOpenAIErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	if _, err := NewOpenAI(failing.URL, "", "m", time.Second, nil).Reason(context.Background(), routerStep(t)); err == nil {
		t.Fatalf("expected error on 503")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()
	if _, err := NewOpenAI(empty.URL, "", "m", time.Second, nil).Reason(context.Background(), routerStep(t)); !errors.Is(err, ErrEmptyDecision) {
		t.Fatalf("expected ErrEmptyDecision, got %v", err)
	}
}

func TestGeminiContentsStartWithUser(t *testing.T) {
	contents := toGeminiContents(routerStep(t).History)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[1].Role != string(genai.RoleModel) || contents[2].Role != string(genai.RoleUser) {
		t.Fatalf("unexpected roles %s %s %s", contents[0].Role, contents[1].Role, contents[2].Role)
	}
}

func TestGeminiTools(t *testing.T) {
	tools := toGeminiTools(routerStep(t).Tools)
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 3 {
		t.Fatalf("unexpected tools %+v", tools)
	}
	fd := tools[0].FunctionDeclarations[0]
	if fd.Name != "call_support_agent" || fd.Parameters.Required[0] != "topic" {
		t.Fatalf("unexpected declaration %+v", fd)
	}
	if toGeminiTools(nil) != nil {
		t.Fatalf("no tools should yield nil")
	}
}

func TestGeminiDecision(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{
			{FunctionCall: &genai.FunctionCall{Name: "call_nick"}},
		}},
	}}}
	dec, err := decisionFrom(resp)
	if err != nil || dec.Call == nil || dec.Call.Name != "call_nick" || dec.Call.Args == nil {
		t.Fatalf("unexpected %+v %v", dec, err)
	}

	resp = &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText("Sure, what time works?", genai.RoleModel),
	}}}
	dec, err = decisionFrom(resp)
	if err != nil || dec.Reply != "Sure, what time works?" {
		t.Fatalf("unexpected %+v %v", dec, err)
	}

	if _, err := decisionFrom(&genai.GenerateContentResponse{}); !errors.Is(err, ErrEmptyDecision) {
		t.Fatalf("expected ErrEmptyDecision, got %v", err)
	}
}
