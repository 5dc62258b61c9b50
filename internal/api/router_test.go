package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"yuzu/concierge/internal/agent"
	"yuzu/concierge/internal/auth"
	"yuzu/concierge/internal/config"
	"yuzu/concierge/internal/health"
	"yuzu/concierge/internal/persona"
	"yuzu/concierge/internal/reasoning"
	"yuzu/concierge/internal/speech"
	"yuzu/concierge/internal/speech/speechtest"
	"yuzu/concierge/internal/store"
	"yuzu/concierge/internal/types"
)

type mockDaily struct {
	mu      sync.Mutex
	deleted []string
}

func (m *mockDaily) CreateRoom(ctx context.Context, name, privacy string) error { return nil }
func (m *mockDaily) CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64) (string, error) {
	return "tok", nil
}
func (m *mockDaily) DeleteRoom(ctx context.Context, name string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, name)
	m.mu.Unlock()
	return nil
}

type mockRunner struct {
	mu      sync.Mutex
	running map[string]map[string]string
}

func (m *mockRunner) Start(sessionID string, env map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil {
		m.running = map[string]map[string]string{}
	}
	m.running[sessionID] = env
	return nil
}
func (m *mockRunner) Stop(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, sessionID)
	return nil
}
func (m *mockRunner) IsRunning(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[sessionID]
	return ok
}

type replyBrain struct{}

func (replyBrain) Reason(ctx context.Context, step reasoning.Step) (reasoning.Decision, error) {
	if strings.Contains(step.History[len(step.History)-1].Text, "printer") {
		return reasoning.Decision{Call: &persona.ToolCall{Name: "call_support_agent", Args: map[string]any{"topic": "printer"}}}, nil
	}
	return reasoning.Decision{Reply: "Sure."}, nil
}

type fixture struct {
	srv    *httptest.Server
	store  *store.Store
	daily  *mockDaily
	runner *mockRunner
	cfg    config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var cfg config.Config
	cfg.Server.PublicURL = "https://concierge.example"
	cfg.Daily.APIKey = "k"
	cfg.Daily.Domain = "example.daily.co"
	cfg.Daily.RoomPrefix = "c-"
	cfg.Daily.BotName = "Concierge"
	cfg.Daily.BotTokenExpMin = 10
	cfg.Worker.TokenSecret = "secret"
	cfg.Worker.TokenTTLMin = 5
	cfg.Personas.RouterVoice = "v-nick"

	reg, err := persona.NewRegistry(persona.Voices{Router: "v-nick", Support: "v-raju", Booking: "v-chutki"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	f := &fixture{store: store.New(), daily: &mockDaily{}, runner: &mockRunner{}, cfg: cfg}
	logger := zaptest.NewLogger(t)
	rec := &speechtest.Recorder{}
	mgr, err := agent.NewManager(agent.Deps{
		Registry: reg,
		Reasoner: replyBrain{},
		Rooms:    f.daily,
		Speakers: func(string) speech.Speaker { return rec },
		Store:    f.store,
		Logger:   logger,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h := NewHandlers(cfg, f.store, f.daily, f.runner, mgr, logger)
	h.Health = func(ctx context.Context) health.Status {
		return health.Status{OK: false, Checks: []health.CheckResult{{Name: "redis", Error: "down"}}}
	}
	e := echo.New()
	NewRouter(e, h, nil)
	f.srv = httptest.NewServer(e)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestStartEndUnknownSession404(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/sessions/unknown/start", "/sessions/unknown/end", "/sessions/unknown/turns"} {
		resp, _ := f.post(t, p, `{"text":"hi"}`)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", p, resp.StatusCode)
		}
	}
	if resp, _ := f.get(t, "/sessions/unknown/state"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("state: expected 404, got %d", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, created := f.post(t, "/sessions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %v", resp.StatusCode, created)
	}
	id, _ := created["session_id"].(string)
	if id == "" || created["room_url"] != "https://example.daily.co/c-"+id {
		t.Fatalf("unexpected create response %v", created)
	}

	resp, _ = f.post(t, "/sessions/"+id+"/start", "")
	if resp.StatusCode != http.StatusOK || !f.runner.IsRunning(id) {
		t.Fatalf("start: %d", resp.StatusCode)
	}
	f.runner.mu.Lock()
	env := f.runner.running[id]
	f.runner.mu.Unlock()
	if env["BACKEND_WS_URL"] != "wss://concierge.example/ws/worker?session_id="+id || env["ELEVENLABS_VOICE_ID"] != "v-nick" {
		t.Fatalf("unexpected worker env %v", env)
	}
	if _, err := auth.ValidateWorkerToken("secret", env["WORKER_TOKEN"], id, 0); err != nil {
		t.Fatalf("worker token: %v", err)
	}

	resp, st := f.post(t, "/sessions/"+id+"/turns", `{"text":"my printer is jammed"}`)
	if resp.StatusCode != http.StatusOK || st["persona"] != "support" || st["topic"] != "printer" {
		t.Fatalf("turn: %d %v", resp.StatusCode, st)
	}
	if resp, _ := f.post(t, "/sessions/"+id+"/turns", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty turn: expected 400, got %d", resp.StatusCode)
	}

	resp, tr := f.get(t, "/sessions/"+id+"/transcript")
	if turns, _ := tr["turns"].([]any); resp.StatusCode != http.StatusOK || len(turns) != 2 {
		t.Fatalf("transcript: %d %v", resp.StatusCode, tr)
	}

	resp, ended := f.post(t, "/sessions/"+id+"/end", "")
	if resp.StatusCode != http.StatusOK || ended["status"] != types.StatusEnded {
		t.Fatalf("end: %d %v", resp.StatusCode, ended)
	}
	if f.runner.IsRunning(id) {
		t.Fatalf("worker should be stopped")
	}
	f.daily.mu.Lock()
	deleted := append([]string(nil), f.daily.deleted...)
	f.daily.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "c-"+id {
		t.Fatalf("expected one room deletion, got %v", deleted)
	}

	if resp, _ := f.post(t, "/sessions/"+id+"/turns", `{"text":"hello?"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("turn after end: expected 409, got %d", resp.StatusCode)
	}
	if resp, _ := f.post(t, "/sessions/"+id+"/start", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("start after end: expected 409, got %d", resp.StatusCode)
	}
	_, state := f.get(t, "/sessions/"+id+"/state")
	if state["status"] != types.StatusEnded {
		t.Fatalf("expected ended status, got %v", state)
	}
	_, events := f.get(t, "/sessions/"+id+"/events")
	if evs, _ := events["events"].([]any); len(evs) == 0 {
		t.Fatalf("expected events")
	}
	_, handoffs := f.get(t, "/sessions/"+id+"/events?type=handoff")
	if evs, _ := handoffs["events"].([]any); len(evs) != 1 {
		t.Fatalf("expected one handoff event, got %v", handoffs)
	}
	if rec := f.store.GetSession(id); rec.Persona != "support" || rec.Handoffs != 1 {
		t.Fatalf("unexpected session record %+v", rec)
	}
}

func TestMintWorkerToken(t *testing.T) {
	f := newFixture(t)
	_ = f.store.CreateSession(&types.Session{ID: "s1", Status: types.StatusCreated})
	resp, out := f.post(t, "/sessions/s1/worker-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mint: %d", resp.StatusCode)
	}
	tok, _ := out["token"].(string)
	if _, err := auth.ValidateWorkerToken("secret", tok, "s1", 0); err != nil {
		t.Fatalf("token invalid: %v", err)
	}
}

func TestHealthDeps(t *testing.T) {
	f := newFixture(t)
	resp, out := f.get(t, "/health/deps")
	if resp.StatusCode != http.StatusServiceUnavailable || out["ok"] != false {
		t.Fatalf("expected 503, got %d %v", resp.StatusCode, out)
	}
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
}
