package workerws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"yuzu/concierge/internal/auth"
	"yuzu/concierge/internal/store"
)

// Message is the JSON envelope exchanged with the media worker in both
// directions.
type Message struct {
	Type        string         `json:"type"`
	TsMs        int64          `json:"ts_ms"`
	SessionID   string         `json:"session_id"`
	Seq         int64          `json:"seq"`
	CommandID   string         `json:"command_id,omitempty"`
	UtteranceID string         `json:"utterance_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Str returns a string payload field, or "".
func (m Message) Str(key string) string {
	if m.Payload == nil {
		return ""
	}
	v, _ := m.Payload[key].(string)
	return v
}

// Bool returns a bool payload field and whether it was present.
func (m Message) Bool(key string) (bool, bool) {
	if m.Payload == nil {
		return false, false
	}
	v, ok := m.Payload[key].(bool)
	return v, ok
}

type Server struct {
	Store       *store.Store
	Reg         *Registry
	TokenSecret string
	Leeway      time.Duration
	Logger      *zap.Logger

	// OnMessage receives every decoded worker message, in arrival order.
	OnMessage func(sessionID string, msg Message)
	// OnDisconnect fires after the read loop ends.
	OnDisconnect func(sessionID string)
}

func NewServer(st *store.Store, reg *Registry, tokenSecret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Store: st, Reg: reg, TokenSecret: tokenSecret, Leeway: time.Minute, Logger: logger.Named("workerws")}
}

func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if s.Store.GetSession(sessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if s.TokenSecret == "" {
		http.Error(w, "worker auth not configured", http.StatusUnauthorized)
		return
	}
	if _, err := auth.ValidateWorkerToken(s.TokenSecret, strings.TrimPrefix(authz, "Bearer "), sessionID, s.Leeway); err != nil {
		s.Logger.Warn("worker token rejected", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.Logger.Error("ws accept", zap.Error(err))
		return
	}
	log := s.Logger.With(zap.String("session_id", sessionID))
	if s.Reg.Replace(sessionID, c) {
		s.Store.AppendEvent(sessionID, "worker_replaced", nil)
	}
	s.Store.AppendEvent(sessionID, "worker_connected", nil)
	log.Info("worker connected")

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Store.AppendEvent(sessionID, "worker_msg_invalid", map[string]any{"error": err.Error()})
			continue
		}
		msg.SessionID = sessionID
		s.Store.AppendEvent(sessionID, msg.Type, eventPayload(msg))
		if s.OnMessage != nil {
			s.OnMessage(sessionID, msg)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.Reg.Remove(sessionID, c)
	s.Store.AppendEvent(sessionID, "worker_disconnected", nil)
	log.Info("worker disconnected")
	if s.OnDisconnect != nil {
		s.OnDisconnect(sessionID)
	}
}

func eventPayload(msg Message) map[string]any {
	payload := make(map[string]any, len(msg.Payload)+4)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	payload["ts_ms"] = msg.TsMs
	payload["seq"] = msg.Seq
	if msg.CommandID != "" {
		payload["command_id"] = msg.CommandID
	}
	if msg.UtteranceID != "" {
		payload["utterance_id"] = msg.UtteranceID
	}
	return payload
}
