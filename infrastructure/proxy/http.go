// Package proxy builds tool proxies: deterministic fixtures for simulated
// runs and live integrations (HTTP services, n8n, MCP servers, a model
// endpoint and blob stores) for live runs.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/felixgeelhaar/apl"
	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/infrastructure/resilience"
)

// HTTPConfig configures outbound HTTP calls.
type HTTPConfig struct {
	// Timeout is the HTTP client timeout.
	Timeout time.Duration

	// UserAgent is the User-Agent header value.
	UserAgent string

	// Secret signs request bodies when set.
	Secret string

	// Headers are added to every request.
	Headers map[string]string

	// MaxResponseBytes caps the response body read.
	MaxResponseBytes int64
}

// DefaultHTTPConfig returns sensible default configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:          30 * time.Second,
		UserAgent:        apl.Generator,
		MaxResponseBytes: 10 << 20,
	}
}

// HTTPClient sends requests through one circuit breaker per host.
type HTTPClient struct {
	config   HTTPConfig
	client   *http.Client
	breakers *resilience.Breakers
	signer   Signer
	now      func() time.Time
}

// NewHTTPClient creates an HTTP client. A nil breaker set gets defaults.
func NewHTTPClient(config HTTPConfig, breakers *resilience.Breakers) *HTTPClient {
	defaults := DefaultHTTPConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if breakers == nil {
		breakers = resilience.NewBreakers(0, 0)
	}

	return &HTTPClient{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		breakers: breakers,
		now:      time.Now,
	}
}

// Breakers returns the breaker set, for state inspection.
func (c *HTTPClient) Breakers() *resilience.Breakers {
	return c.breakers
}

// Do sends a request and returns the body of a 2xx response. 4xx answers
// wrap tool.ErrInvalidInput and are not retried; 5xx answers are.
func (c *HTTPClient) Do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid URL %q", tool.ErrInvalidInput, rawURL)
	}

	return c.breakers.Execute(ctx, u.Scheme+"://"+u.Host, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("User-Agent", c.config.UserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.config.Headers {
			req.Header.Set(k, v)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.config.Secret != "" && body != nil {
			for k, v := range c.signer.Headers(body, c.config.Secret, c.now()) {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", u.Host, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, snippet(data))
		default:
			return nil, fmt.Errorf("%w: status %d: %s", tool.ErrInvalidInput, resp.StatusCode, snippet(data))
		}
	})
}

// OutputResult turns a response body into a result: valid JSON is kept,
// other text becomes a JSON string and an empty body becomes {}.
func OutputResult(body []byte) tool.Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return tool.NewResult(json.RawMessage(`{}`))
	}
	if json.Valid(trimmed) {
		return tool.NewResult(json.RawMessage(trimmed))
	}
	out, _ := json.Marshal(string(body))
	return tool.NewResult(out)
}

func snippet(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// toolRequest is the body POSTed to HTTP tool endpoints.
type toolRequest struct {
	Tool      string         `json:"tool"`
	Operation string         `json:"operation,omitempty"`
	StepID    string         `json:"step_id"`
	Agent     string         `json:"agent"`
	Routine   string         `json:"routine"`
	Args      map[string]any `json:"args"`
}

// HTTPProxy invokes a tool served at an http(s) endpoint.
type HTTPProxy struct {
	desc   tool.Descriptor
	client *HTTPClient
}

// NewHTTPProxy creates a proxy posting to d.EndpointRef.
func NewHTTPProxy(d tool.Descriptor, client *HTTPClient) *HTTPProxy {
	return &HTTPProxy{desc: d, client: client}
}

// Descriptor implements tool.Proxy.
func (p *HTTPProxy) Descriptor() tool.Descriptor {
	return p.desc
}

// Invoke implements tool.Proxy.
func (p *HTTPProxy) Invoke(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
	args := inv.Args
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(toolRequest{
		Tool:      p.desc.Key(),
		Operation: inv.Operation,
		StepID:    inv.StepID,
		Agent:     inv.Agent,
		Routine:   inv.Routine,
		Args:      args,
	})
	if err != nil {
		return tool.Result{}, fmt.Errorf("%w: %v", tool.ErrInvalidInput, err)
	}

	data, err := p.client.Do(ctx, http.MethodPost, p.desc.EndpointRef, nil, body)
	if err != nil {
		return tool.Result{}, err
	}
	return OutputResult(data), nil
}

var _ tool.Proxy = (*HTTPProxy)(nil)
