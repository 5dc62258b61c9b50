package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// viper treats empty env values as unset
	for _, k := range []string{"PORT", "LOG_LEVEL", "DAILY_ROOM_PREFIX", "DAILY_ROOM_PRIVACY", "SESSION_GRACE_SECONDS", "LLM_PROVIDER", "PERSONA_ROUTER_VOICE_ID"} {
		t.Setenv(k, "")
	}

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Daily.RoomPrefix != "concierge-" {
		t.Fatalf("expected default room prefix, got %q", c.Daily.RoomPrefix)
	}
	if c.Daily.RoomPrivacy != "private" {
		t.Fatalf("expected default room privacy private, got %q", c.Daily.RoomPrivacy)
	}
	if c.Grace() != 3*time.Second {
		t.Fatalf("expected 3s grace, got %s", c.Grace())
	}
	if c.Personas.RouterVoice != "TX3LPaxmHKxFdv7VOQHJ" {
		t.Fatalf("unexpected router voice %q", c.Personas.RouterVoice)
	}
	if c.LLM.Provider != "openai" || c.LLM.Model != "qwen2.5:7b" {
		t.Fatalf("unexpected llm defaults %+v", c.LLM)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_GRACE_SECONDS", "5")
	t.Setenv("PERSONA_BOOKING_VOICE_ID", "voice-b")
	t.Setenv("LLM_PROVIDER", "Gemini")

	c := Load()
	if c.Session.GraceSeconds != 5 || c.Personas.BookingVoice != "voice-b" || c.LLM.Provider != "gemini" {
		t.Fatalf("overrides not applied: %+v %+v %+v", c.Session, c.Personas, c.LLM)
	}
}

func TestValidateRejectsShortGrace(t *testing.T) {
	t.Setenv("SESSION_GRACE_SECONDS", "1")
	c := Load()
	if err := c.Validate(); !errors.Is(err, ErrGraceTooShort) {
		t.Fatalf("expected ErrGraceTooShort, got %v", err)
	}
}
