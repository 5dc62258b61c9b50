package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/persona"
)

// Gemini uses Gemini function calling for the transition tools.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{client: client, model: model, timeout: timeout, logger: logger.Named("gemini")}, nil
}

func (g *Gemini) Reason(ctx context.Context, step Step) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(step.Instructions, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.4),
	}
	if tools := toGeminiTools(step.Tools); tools != nil {
		cfg.Tools = tools
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, toGeminiContents(step.History), cfg)
	if err != nil {
		metricLLMErrors.WithLabelValues("gemini").Inc()
		g.logger.Warn("generate content", zap.String("persona", string(step.Persona)), zap.Error(err))
		return Decision{}, fmt.Errorf("gemini generate: %w", err)
	}
	metricLLMLatency.WithLabelValues("gemini").Observe(float64(time.Since(start).Milliseconds()))
	return decisionFrom(resp)
}

func decisionFrom(resp *genai.GenerateContentResponse) (Decision, error) {
	if resp == nil {
		return Decision{}, ErrEmptyDecision
	}
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		fc := calls[0]
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		return Decision{Call: &persona.ToolCall{Name: fc.Name, Args: args}}, nil
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		return Decision{Reply: text}, nil
	}
	return Decision{}, ErrEmptyDecision
}

// toGeminiContents maps history onto user/model roles. Gemini expects the
// first content to come from the user.
func toGeminiContents(history []conversation.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		var role genai.Role = genai.RoleUser
		if t.Role == conversation.Assistant {
			role = genai.RoleModel
		}
		if len(out) == 0 && role == genai.RoleModel {
			out = append(out, genai.NewContentFromText("(call connected)", genai.RoleUser))
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return out
}

func toGeminiTools(tools []persona.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		if t.TopicParam != "" {
			params.Properties[t.TopicParam] = &genai.Schema{Type: genai.TypeString, Description: t.TopicHelp}
			params.Required = []string{t.TopicParam}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
