package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"yuzu/concierge/internal/agent"
	"yuzu/concierge/internal/auth"
	"yuzu/concierge/internal/bot"
	"yuzu/concierge/internal/config"
	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/daily"
	"yuzu/concierge/internal/health"
	"yuzu/concierge/internal/store"
	"yuzu/concierge/internal/types"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func fail(c echo.Context, code int, kind, msg string) error {
	return c.JSON(code, ErrorResponse{Error: kind, Message: msg})
}

// TranscriptReader reads a finished session's stored transcript.
type TranscriptReader interface {
	Load(ctx context.Context, sessionID string) ([]conversation.Turn, error)
}

type Handlers struct {
	cfg      config.Config
	store    *store.Store
	daily    daily.Client
	runner   bot.Runner
	sessions *agent.Manager
	logger   *zap.Logger

	// Optional.
	Transcripts TranscriptReader
	Health      func(ctx context.Context) health.Status
}

func NewHandlers(cfg config.Config, st *store.Store, d daily.Client, r bot.Runner, sessions *agent.Manager, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{cfg: cfg, store: st, daily: d, runner: r, sessions: sessions, logger: logger.Named("api")}
}

func (h *Handlers) HandleHealthDeps(c echo.Context) error {
	if h.Health == nil {
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "checks": []any{}})
	}
	st := h.Health(c.Request().Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, st)
}

func (h *Handlers) HandleCreateSession(c echo.Context) error {
	if h.cfg.Daily.APIKey == "" || h.cfg.Daily.Domain == "" {
		return fail(c, http.StatusBadRequest, "missing_config", "missing Daily configuration")
	}
	ctx := c.Request().Context()
	id := uuid.New().String()
	roomName := h.cfg.Daily.RoomPrefix + id
	roomURL := "https://" + h.cfg.Daily.Domain + "/" + roomName

	if err := h.daily.CreateRoom(ctx, roomName, h.cfg.Daily.RoomPrivacy); err != nil {
		h.logger.Warn("create room", zap.String("room", roomName), zap.Error(err))
		return fail(c, http.StatusBadGateway, "daily_error", err.Error())
	}
	exp := time.Now().Add(time.Duration(h.cfg.Daily.BotTokenExpMin) * time.Minute).Unix()
	token, err := h.daily.CreateMeetingToken(ctx, roomName, h.cfg.Daily.BotName, exp)
	if err != nil {
		h.logger.Warn("create meeting token", zap.String("room", roomName), zap.Error(err))
		return fail(c, http.StatusBadGateway, "daily_error", err.Error())
	}

	sess := &types.Session{
		ID:        id,
		RoomName:  roomName,
		RoomURL:   roomURL,
		BotToken:  token,
		CreatedAt: time.Now().UTC(),
		Status:    types.StatusCreated,
	}
	if err := h.store.CreateSession(sess); err != nil {
		return fail(c, http.StatusConflict, "session_exists", err.Error())
	}
	if _, err := h.sessions.Open(id, roomName); err != nil {
		return fail(c, http.StatusInternalServerError, "session_open_failed", err.Error())
	}
	h.store.AppendEvent(id, "session_created", map[string]any{"room_name": roomName})
	h.logger.Info("session created", zap.String("session_id", id), zap.String("room", roomName))

	return c.JSON(http.StatusOK, map[string]any{
		"session_id": id,
		"room_name":  roomName,
		"room_url":   roomURL,
		"bot_token":  token,
	})
}

// HandleStartSession launches the media worker. The router greets once the
// worker connects and says hello.
func (h *Handlers) HandleStartSession(c echo.Context) error {
	id := c.Param("id")
	sess := h.store.GetSession(id)
	if sess == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	if sess.Status == types.StatusEnded || sess.Status == types.StatusEnding {
		return fail(c, http.StatusConflict, "session_ended", "session has ended")
	}
	if h.runner.IsRunning(id) {
		h.store.AppendEvent(id, "bot_start_requested", map[string]any{"noop": true})
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "running": true})
	}
	h.store.AppendEvent(id, "bot_start_requested", nil)

	token, exp, err := h.mintWorkerToken(id)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "token_failed", err.Error())
	}
	env := map[string]string{
		"SESSION_ID":          id,
		"DAILY_ROOM_URL":      sess.RoomURL,
		"DAILY_TOKEN":         sess.BotToken,
		"ELEVENLABS_API_KEY":  h.cfg.Eleven.APIKey,
		"ELEVENLABS_VOICE_ID": h.cfg.Personas.RouterVoice,
		"BACKEND_WS_URL":      h.workerWSURL(id),
		"WORKER_TOKEN":        token,
		"WORKER_TOKEN_EXP":    exp.Format(time.RFC3339),
	}
	if err := h.runner.Start(id, env); err != nil {
		return fail(c, http.StatusBadRequest, "worker_start_failed", err.Error())
	}
	h.store.SetBotRunning(id, true)
	h.store.AppendEvent(id, "bot_started", nil)
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "running": true})
}

// HandleEndSession runs the termination sequence, then stops the worker.
func (h *Handlers) HandleEndSession(c echo.Context) error {
	id := c.Param("id")
	if h.store.GetSession(id) == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	ctx := c.Request().Context()
	h.store.AppendEvent(id, "end_requested", nil)
	if err := h.sessions.Close(ctx, id); err != nil && !errors.Is(err, agent.ErrSessionNotFound) {
		h.logger.Warn("terminate session", zap.String("session_id", id), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "terminate_failed", err.Error())
	}

	running := h.runner.IsRunning(id)
	if running {
		h.store.AppendEvent(id, "bot_stop_requested", nil)
		if err := h.runner.Stop(id); err != nil {
			h.logger.Warn("stop worker", zap.String("session_id", id), zap.Error(err))
		}
		h.store.SetBotRunning(id, false)
		h.store.AppendEvent(id, "bot_stopped", nil)
	}
	sess := h.store.GetSession(id)
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "running": false, "status": sess.Status})
}

type turnRequest struct {
	Text string `json:"text"`
}

// HandleDeliverTurn injects a user turn as if the worker had transcribed it.
func (h *Handlers) HandleDeliverTurn(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessions.Get(id)
	if !ok {
		if h.sessions.IsEnded(id) {
			return fail(c, http.StatusConflict, "session_ended", agent.ErrSessionEnded.Error())
		}
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	var req turnRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return fail(c, http.StatusBadRequest, "invalid_request", "text is required")
	}
	if err := sess.HandleUserTurn(c.Request().Context(), req.Text); err != nil {
		if errors.Is(err, agent.ErrSessionEnded) {
			return fail(c, http.StatusConflict, "session_ended", err.Error())
		}
		return fail(c, http.StatusBadGateway, "turn_failed", err.Error())
	}
	return c.JSON(http.StatusOK, sess.State())
}

func (h *Handlers) HandleListEvents(c echo.Context) error {
	id := c.Param("id")
	if h.store.GetSession(id) == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	var kinds []string
	if q := c.QueryParam("type"); q != "" {
		kinds = strings.Split(q, ",")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id, kinds...),
	})
}

func (h *Handlers) HandleState(c echo.Context) error {
	id := c.Param("id")
	rec := h.store.GetSession(id)
	if rec == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	out := map[string]any{"session_id": id, "status": rec.Status}
	if sess, ok := h.sessions.Get(id); ok {
		out["agent"] = sess.State()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleTranscript(c echo.Context) error {
	id := c.Param("id")
	if h.store.GetSession(id) == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	if sess, ok := h.sessions.Get(id); ok {
		return c.JSON(http.StatusOK, map[string]any{"session_id": id, "turns": sess.Conversation().Turns()})
	}
	if h.Transcripts == nil {
		return fail(c, http.StatusNotFound, "no_transcript", "transcript store not configured")
	}
	turns, err := h.Transcripts.Load(c.Request().Context(), id)
	if err != nil {
		return fail(c, http.StatusBadGateway, "transcript_error", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": id, "turns": turns})
}

func (h *Handlers) HandleMintWorkerToken(c echo.Context) error {
	id := c.Param("id")
	if h.store.GetSession(id) == nil {
		return fail(c, http.StatusNotFound, "not_found", "session not found")
	}
	token, exp, err := h.mintWorkerToken(id)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "token_failed", err.Error())
	}
	h.store.AppendEvent(id, "worker_token_minted", map[string]any{"expires_at": exp})
	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
		"ws_url":     h.workerWSURL(id),
	})
}

func (h *Handlers) mintWorkerToken(id string) (string, time.Time, error) {
	if h.cfg.Worker.TokenSecret == "" {
		return "", time.Time{}, errors.New("WORKER_TOKEN_SECRET not set")
	}
	exp := time.Now().Add(time.Duration(h.cfg.Worker.TokenTTLMin) * time.Minute).UTC()
	tok, err := auth.GenerateWorkerToken(h.cfg.Worker.TokenSecret, id, exp)
	return tok, exp, err
}

func (h *Handlers) workerWSURL(id string) string {
	base := h.cfg.Server.PublicURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/worker?session_id=" + id
}
