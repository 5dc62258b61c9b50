// Package reasoning runs one model step for the active persona: it sees the
// persona's instructions, its tools and the shared history, and returns
// either a reply or a tool call.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/config"
	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/persona"
)

var ErrEmptyDecision = errors.New("model returned neither text nor tool call")

type Step struct {
	Persona      persona.Name
	Instructions string
	Tools        []persona.Tool
	History      []conversation.Turn
}

type Decision struct {
	Reply string
	Call  *persona.ToolCall
}

type Reasoner interface {
	Reason(ctx context.Context, step Step) (Decision, error)
}

// Closer is implemented by providers that hold connections.
type Closer interface {
	Close() error
}

// New picks the provider named by LLM_PROVIDER.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (Reasoner, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	switch cfg.LLM.Provider {
	case "openai", "":
		return NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, timeout, logger), nil
	case "gemini":
		return NewGemini(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, timeout, logger)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}
