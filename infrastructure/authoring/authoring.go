// Package authoring drafts APL programs from natural-language briefs,
// either through a chat completions model or from deterministic offline
// templates.
package authoring

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/apl/infrastructure/proxy"
)

// Environment variables read by FromEnv.
const (
	EnvMock        = "APL_LLM_MOCK"
	EnvModel       = "APL_LLM_MODEL"
	EnvTemperature = "APL_LLM_TEMPERATURE"
)

// DefaultTemperature keeps drafts close to the grammar.
const DefaultTemperature = 0.2

// SystemPrompt instructs the model to answer with program source only.
const SystemPrompt = `You write programs in APL, a small line-oriented language for capability-gated agents.
Return only APL source. Do not include Markdown fences or commentary.

Grammar:
program NAME
agent NAME [binds NAMESPACE.TOOL as ALIAS]:
    capability NAME
    # n8n: trigger webhook path="/path" method="POST"
    def ROUTINE(param, ...):
        precondition: EXPR
        VAR = call_llm(prompt="text with {{var}}")
        VAR = fetch(url="https://...") requires capability.network
        VAR = store(key="k", value=VAR) requires capability.storage
        VAR = ALIAS.operation(arg=EXPR) [retry N]
        VAR = EXPR
        assert EXPR
        if EXPR:
            ...
        else:
            ...
        end
        for VAR in [1, 2, 3]:
            ...
        end
        return EXPR
    end
end

Rules:
- One statement per line. Blocks close with end.
- Every capability a step requires must be declared in its agent.
- Expressions allow literals, variables, + - * / %, comparisons, and, or, not, in, len(x).
- Templates "{{name}}" may only name variables.
- Attribute access, subscripts and other calls are not allowed.
`

// ErrNoSeed is returned when a mock seed program cannot be read.
var ErrNoSeed = errors.New("seed program not readable")

// Drafter turns a brief into candidate program source.
type Drafter interface {
	Draft(ctx context.Context, brief string) (string, error)
}

// Config configures drafting.
type Config struct {
	// Model overrides the endpoint's default model.
	Model       string
	Temperature float64
	// Mock drafts from Seed or the built-in templates without a model.
	Mock bool
	// Seed is a program file returned verbatim in mock mode.
	Seed string
}

// FromEnv applies APL_LLM_MOCK, APL_LLM_MODEL and APL_LLM_TEMPERATURE from
// lookup over cfg. Unparsable values are ignored.
func FromEnv(cfg Config, lookup func(string) (string, bool)) Config {
	if v, ok := lookup(EnvMock); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Mock = true
		}
	}
	if v, ok := lookup(EnvModel); ok && v != "" {
		cfg.Model = v
	}
	if v, ok := lookup(EnvTemperature); ok {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Temperature = t
		}
	}
	return cfg
}

// ModelDrafter drafts programs with a chat completions model.
type ModelDrafter struct {
	client *proxy.LLMClient
	config Config
}

// NewModelDrafter creates a drafter backed by client.
func NewModelDrafter(client *proxy.LLMClient, cfg Config) *ModelDrafter {
	return &ModelDrafter{client: client, config: cfg}
}

// Draft sends brief with SystemPrompt and returns the model's reply.
func (d *ModelDrafter) Draft(ctx context.Context, brief string) (string, error) {
	temperature := d.config.Temperature
	return d.client.Chat(ctx, brief, proxy.ChatOptions{
		Model:       d.config.Model,
		System:      SystemPrompt,
		Temperature: &temperature,
	})
}

// MockDrafter returns a fixed program for every brief: the seed file if
// configured, otherwise a built-in template chosen by keyword.
type MockDrafter struct {
	seed string
}

// NewMockDrafter creates an offline drafter. seed may be empty.
func NewMockDrafter(seed string) *MockDrafter {
	return &MockDrafter{seed: seed}
}

// Draft implements Drafter.
func (d *MockDrafter) Draft(ctx context.Context, brief string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.seed != "" {
		data, err := os.ReadFile(d.seed) // #nosec G304 -- operator supplied path
		if err != nil {
			return "", errors.Join(ErrNoSeed, err)
		}
		return string(data), nil
	}
	text := strings.ToLower(brief)
	if strings.Contains(text, "customer") || strings.Contains(text, "support") {
		return supportTemplate, nil
	}
	return helloTemplate, nil
}

const helloTemplate = `program hello(version="0.1")

agent greeter:
    def greet(name):
        message = call_llm(prompt="Say hello to {{name}}")
        return message
    end
end
`

const supportTemplate = `program customer_support(version="0.1")

agent support:
    capability storage
    # n8n: trigger webhook path="/apl/support" method="POST"
    def triage(ticket):
        summary = call_llm(prompt="Summarize this support ticket: {{ticket}}")
        saved = store(key="ticket-summary", value=summary) requires capability.storage
        return summary
    end
end
`

// New picks the drafter cfg asks for. client may be nil in mock mode.
func New(cfg Config, client *proxy.LLMClient) (Drafter, error) {
	if cfg.Mock {
		return NewMockDrafter(cfg.Seed), nil
	}
	if client == nil {
		return nil, proxy.ErrModelNotConfigured
	}
	return NewModelDrafter(client, cfg), nil
}
