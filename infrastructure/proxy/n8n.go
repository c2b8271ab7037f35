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

// N8NAPIKeyHeader carries the n8n API key.
const N8NAPIKeyHeader = "X-N8N-API-KEY"

// ErrN8NNotConfigured is returned when an n8n call runs without a base URL.
var ErrN8NNotConfigured = errors.New("n8n base URL not configured")

// N8NConfig configures the n8n client.
type N8NConfig struct {
	// BaseURL is the n8n instance, e.g. "https://n8n.example.com".
	BaseURL string

	// APIKey is sent as X-N8N-API-KEY when set.
	APIKey string
}

// N8NClient triggers n8n webhooks and workflows.
type N8NClient struct {
	config N8NConfig
	http   *HTTPClient
}

// NewN8NClient creates an n8n client.
func NewN8NClient(config N8NConfig, client *HTTPClient) *N8NClient {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &N8NClient{config: config, http: client}
}

// TriggerWebhook calls /webhook<path> with method (default POST).
func (c *N8NClient) TriggerWebhook(ctx context.Context, path string, payload any, method string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: webhook path is required", tool.ErrInvalidInput)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if method == "" {
		method = http.MethodPost
	}
	return c.do(ctx, strings.ToUpper(method), "/webhook"+path, payload)
}

// CallWorkflow runs a workflow by id through /workflow/run/<id>.
func (c *N8NClient) CallWorkflow(ctx context.Context, workflowID string, payload any) ([]byte, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("%w: workflow_id is required", tool.ErrInvalidInput)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, "/workflow/run/"+workflowID, payload)
}

func (c *N8NClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.config.BaseURL == "" {
		return nil, ErrN8NNotConfigured
	}

	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", tool.ErrInvalidInput, err)
		}
		body = data
	}

	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers[N8NAPIKeyHeader] = c.config.APIKey
	}
	return c.http.Do(ctx, method, c.config.BaseURL+path, headers, body)
}

// NewProxy returns a proxy for an n8n: endpoint.
func (c *N8NClient) NewProxy(d tool.Descriptor) (tool.Proxy, error) {
	op := strings.TrimPrefix(d.EndpointRef, tool.N8NScheme)
	switch op {
	case "trigger_webhook":
		return tool.NewFuncProxy(d, func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
			path, _ := inv.Args["path"].(string)
			method, _ := inv.Args["method"].(string)
			data, err := c.TriggerWebhook(ctx, path, inv.Args["payload"], method)
			if err != nil {
				return tool.Result{}, err
			}
			return OutputResult(data), nil
		}), nil
	case "call_workflow":
		return tool.NewFuncProxy(d, func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
			id := expr.Stringify(inv.Args["workflow_id"])
			if inv.Args["workflow_id"] == nil {
				id = ""
			}
			data, err := c.CallWorkflow(ctx, id, inv.Args["payload"])
			if err != nil {
				return tool.Result{}, err
			}
			return OutputResult(data), nil
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", tool.ErrUnsupportedEndpoint, d.EndpointRef)
	}
}
