package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/persona"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint. The
// default configuration points at a local Ollama.
type OpenAI struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *zap.Logger
}

func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  logger.Named("llm"),
	}
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON object encoded as a string.
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Reason(ctx context.Context, step Step) (Decision, error) {
	body := map[string]any{
		"model":    o.model,
		"messages": toChatMessages(step),
		"stream":   false,
	}
	if len(step.Tools) > 0 {
		body["tools"] = toOpenAITools(step.Tools)
		body["tool_choice"] = "auto"
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return Decision{}, err
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpc.Do(req)
	if err != nil {
		metricLLMErrors.WithLabelValues("openai").Inc()
		return Decision{}, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricLLMErrors.WithLabelValues("openai").Inc()
		return Decision{}, fmt.Errorf("chat completions: status=%d body=%s", resp.StatusCode, string(b))
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Decision{}, fmt.Errorf("chat completions decode: %w", err)
	}
	metricLLMLatency.WithLabelValues("openai").Observe(float64(time.Since(start).Milliseconds()))
	if len(parsed.Choices) == 0 {
		return Decision{}, ErrEmptyDecision
	}
	msg := parsed.Choices[0].Message
	o.logger.Debug("chat completion",
		zap.String("persona", string(step.Persona)),
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
		zap.Int("tool_calls", len(msg.ToolCalls)))

	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		args := map[string]any{}
		if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return Decision{}, fmt.Errorf("tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		return Decision{Call: &persona.ToolCall{Name: tc.Function.Name, Args: args}, Reply: strings.TrimSpace(msg.Content)}, nil
	}
	if text := strings.TrimSpace(msg.Content); text != "" {
		return Decision{Reply: text}, nil
	}
	return Decision{}, ErrEmptyDecision
}

func toChatMessages(step Step) []chatMessage {
	out := make([]chatMessage, 0, len(step.History)+1)
	out = append(out, chatMessage{Role: "system", Content: step.Instructions})
	for _, t := range step.History {
		role := "user"
		if t.Role == conversation.Assistant {
			role = "assistant"
		}
		out = append(out, chatMessage{Role: role, Content: t.Text})
	}
	return out
}

func toOpenAITools(tools []persona.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if t.TopicParam != "" {
			params["properties"] = map[string]any{
				t.TopicParam: map[string]any{"type": "string", "description": t.TopicHelp},
			}
			params["required"] = []string{t.TopicParam}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}
