package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrGraceTooShort = errors.New("session grace interval below 2s")

type Config struct {
	Server struct {
		Port      string
		GRPCAddr  string
		PublicURL string
		LogLevel  string
	}
	Daily struct {
		APIKey         string
		Domain         string
		RoomPrefix     string
		RoomPrivacy    string
		BotName        string
		BotTokenExpMin int
	}
	Bot struct {
		WorkerCmd string
	}
	Worker struct {
		TokenSecret string
		TokenTTLMin int
	}
	Eleven struct {
		APIKey string
	}
	Personas struct {
		RouterVoice  string
		SupportVoice string
		BookingVoice string
	}
	Session struct {
		GraceSeconds      int
		Goodbye           string
		TTSTimeoutSeconds int
	}
	LLM struct {
		Provider       string
		BaseURL        string
		APIKey         string
		Model          string
		GeminiAPIKey   string
		GeminiModel    string
		TimeoutSeconds int
	}
	Redis struct {
		Addr          string
		Password      string
		DB            int
		TranscriptTTL int
	}
}

func (c Config) Grace() time.Duration {
	return time.Duration(c.Session.GraceSeconds) * time.Second
}

// Validate catches settings that would break the termination contract.
func (c Config) Validate() error {
	if c.Session.GraceSeconds < 2 {
		return fmt.Errorf("%w: %ds", ErrGraceTooShort, c.Session.GraceSeconds)
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("daily.room_prefix", "concierge-")
	v.SetDefault("daily.room_privacy", "private")
	v.SetDefault("daily.bot_name", "Concierge")
	v.SetDefault("daily.bot_token_exp_min", 720)

	v.SetDefault("worker.token_ttl_min", 60)

	v.SetDefault("personas.router_voice", "TX3LPaxmHKxFdv7VOQHJ")
	v.SetDefault("personas.support_voice", "JBFqnCBsd6RMkjVDRZzb")
	v.SetDefault("personas.booking_voice", "Xb7hH8MSUJpSbSDYk0k2")

	v.SetDefault("session.grace_seconds", 3)
	v.SetDefault("session.goodbye", "Goodbye! Have a great day!")
	v.SetDefault("session.tts_timeout_seconds", 60)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "ollama")
	v.SetDefault("llm.model", "qwen2.5:7b")
	v.SetDefault("llm.gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.transcript_ttl_min", 1440)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_addr", "GRPC_ADDR")
	v.BindEnv("server.public_url", "PUBLIC_URL")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("daily.api_key", "DAILY_API_KEY")
	v.BindEnv("daily.domain", "DAILY_DOMAIN")
	v.BindEnv("daily.room_prefix", "DAILY_ROOM_PREFIX")
	v.BindEnv("daily.room_privacy", "DAILY_ROOM_PRIVACY")
	v.BindEnv("daily.bot_name", "DAILY_BOT_NAME")
	v.BindEnv("daily.bot_token_exp_min", "DAILY_BOT_TOKEN_EXP_MIN")

	v.BindEnv("bot.worker_cmd", "BOT_WORKER_CMD")

	v.BindEnv("worker.token_secret", "WORKER_TOKEN_SECRET")
	v.BindEnv("worker.token_ttl_min", "WORKER_TOKEN_TTL_MIN")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")

	v.BindEnv("personas.router_voice", "PERSONA_ROUTER_VOICE_ID")
	v.BindEnv("personas.support_voice", "PERSONA_SUPPORT_VOICE_ID")
	v.BindEnv("personas.booking_voice", "PERSONA_BOOKING_VOICE_ID")

	v.BindEnv("session.grace_seconds", "SESSION_GRACE_SECONDS")
	v.BindEnv("session.goodbye", "SESSION_GOODBYE")
	v.BindEnv("session.tts_timeout_seconds", "SESSION_TTS_TIMEOUT_SECONDS")

	v.BindEnv("llm.provider", "LLM_PROVIDER")
	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.api_key", "LLM_API_KEY")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.gemini_model", "GEMINI_MODEL")
	v.BindEnv("llm.timeout_seconds", "LLM_TIMEOUT_SECONDS")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.transcript_ttl_min", "TRANSCRIPT_TTL_MIN")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")
	c.Server.PublicURL = strings.TrimRight(v.GetString("server.public_url"), "/")
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Daily.APIKey = v.GetString("daily.api_key")
	c.Daily.Domain = v.GetString("daily.domain")
	c.Daily.RoomPrefix = v.GetString("daily.room_prefix")
	c.Daily.RoomPrivacy = v.GetString("daily.room_privacy")
	c.Daily.BotName = v.GetString("daily.bot_name")
	c.Daily.BotTokenExpMin = v.GetInt("daily.bot_token_exp_min")

	c.Bot.WorkerCmd = v.GetString("bot.worker_cmd")

	c.Worker.TokenSecret = v.GetString("worker.token_secret")
	c.Worker.TokenTTLMin = v.GetInt("worker.token_ttl_min")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")

	c.Personas.RouterVoice = v.GetString("personas.router_voice")
	c.Personas.SupportVoice = v.GetString("personas.support_voice")
	c.Personas.BookingVoice = v.GetString("personas.booking_voice")

	c.Session.GraceSeconds = v.GetInt("session.grace_seconds")
	c.Session.Goodbye = v.GetString("session.goodbye")
	c.Session.TTSTimeoutSeconds = v.GetInt("session.tts_timeout_seconds")

	c.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	c.LLM.BaseURL = strings.TrimRight(v.GetString("llm.base_url"), "/")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.GeminiAPIKey = v.GetString("llm.gemini_api_key")
	c.LLM.GeminiModel = v.GetString("llm.gemini_model")
	c.LLM.TimeoutSeconds = v.GetInt("llm.timeout_seconds")

	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.Password = v.GetString("redis.password")
	c.Redis.DB = v.GetInt("redis.db")
	c.Redis.TranscriptTTL = v.GetInt("redis.transcript_ttl_min")

	return c
}

func toString(v any) string { return fmt.Sprint(v) }
