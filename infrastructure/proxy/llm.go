package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// ErrModelNotConfigured is returned when call_llm runs live without a
// model endpoint.
var ErrModelNotConfigured = errors.New("model endpoint not configured")

// LLMConfig configures the model endpoint behind call_llm. Any service
// speaking the OpenAI chat completions format works.
type LLMConfig struct {
	BaseURL string // e.g. https://api.openai.com
	APIKey  string
	Model   string // Default model when the step names none.
}

// LLMClient calls a chat completions endpoint.
type LLMClient struct {
	config LLMConfig
	http   *HTTPClient
}

// NewLLMClient creates a model client.
func NewLLMClient(config LLMConfig, client *HTTPClient) *LLMClient {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &LLMClient{config: config, http: client}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatOptions tunes one completion.
type ChatOptions struct {
	Model string
	// System, when set, is sent as a system message before the prompt.
	System      string
	Temperature *float64
}

// Complete sends prompt as a single user message and returns the reply.
func (c *LLMClient) Complete(ctx context.Context, prompt, model string) (string, error) {
	return c.Chat(ctx, prompt, ChatOptions{Model: model})
}

// Chat sends prompt as a user message, preceded by opts.System if set, and
// returns the reply.
func (c *LLMClient) Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	if c.config.BaseURL == "" {
		return "", ErrModelNotConfigured
	}
	model := opts.Model
	if model == "" {
		model = c.config.Model
	}

	messages := make([]chatMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}
	data, err := c.http.Do(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", headers, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", tool.ErrInvalidOutput, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("model error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", tool.ErrInvalidOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

// NewProxy returns the live call_llm proxy.
func (c *LLMClient) NewProxy(d tool.Descriptor) tool.Proxy {
	return tool.NewFuncProxy(d, func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		model, _ := inv.Args["model"].(string)
		reply, err := c.Complete(ctx, expr.Stringify(inv.Args["prompt"]), model)
		if err != nil {
			return tool.Result{}, err
		}
		return tool.NewValueResult(reply)
	})
}
