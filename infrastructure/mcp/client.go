// Package mcp connects APL to the Model Context Protocol: a stdio client
// that backs mcp+stdio: tool proxies and live registry lookups, and a
// server that exposes compiled routines as MCP tools.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("client not connected")

	// ErrAlreadyConnected indicates the client is already connected.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrConnectionFailed indicates the connection to the server failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrToolFailed indicates the server reported a tool error.
	ErrToolFailed = errors.New("mcp tool failed")
)

// ProtocolVersion is the MCP revision the client speaks.
const ProtocolVersion = "2024-11-05"

// ToolDef represents a tool definition from an MCP server.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in an MCP response.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text joins the text parts of the result.
func (r *ToolResult) Text() string {
	var text string
	for _, c := range r.Content {
		if c.Type == "" || c.Type == "text" {
			text += c.Text
		}
	}
	return text
}

// ServerInfo contains information about an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientConfig configures an MCP client.
type ClientConfig struct {
	// Name is the client name reported during initialize.
	Name string

	// Version is the client version.
	Version string

	// Command is the server command to run.
	Command []string
}

// ClientOption configures a client.
type ClientOption func(*ClientConfig)

// WithClientName sets the client name.
func WithClientName(name string) ClientOption {
	return func(c *ClientConfig) {
		c.Name = name
	}
}

// WithClientVersion sets the client version.
func WithClientVersion(version string) ClientOption {
	return func(c *ClientConfig) {
		c.Version = version
	}
}

// WithServerCommand sets the server command.
func WithServerCommand(cmd ...string) ClientOption {
	return func(c *ClientConfig) {
		c.Command = cmd
	}
}

// Client consumes tools from an MCP server over stdio.
type Client struct {
	config     ClientConfig
	serverInfo *ServerInfo
	connected  bool
	mu         sync.RWMutex

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	writeMu sync.Mutex
	encoder *json.Encoder

	reqID     atomic.Int64
	responses map[int64]chan *rpcResponse
	respMu    sync.Mutex
	done      chan struct{}
}

// JSON-RPC types for MCP communication.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      ServerInfo `json:"clientInfo"`
}

type initResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolDef `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewClient creates a new MCP client.
func NewClient(opts ...ClientOption) *Client {
	cfg := ClientConfig{
		Name:    "apl",
		Version: "1.0.0",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		config:    cfg,
		responses: make(map[int64]chan *rpcResponse),
	}
}

// Connect starts the server process and performs the initialize
// handshake. ctx bounds the handshake only; the process lives until Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}
	if len(c.config.Command) == 0 {
		return fmt.Errorf("%w: no command specified", ErrConnectionFailed)
	}

	c.cmd = exec.Command(c.config.Command[0], c.config.Command[1:]...) // #nosec G204 -- command comes from operator configuration

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrConnectionFailed, err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %v", ErrConnectionFailed, err)
	}
	if err := c.cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("%w: start command: %v", ErrConnectionFailed, err)
	}

	return c.attach(ctx, stdout, stdin)
}

// ConnectPipes runs the protocol over an existing stream pair, for servers
// that are not child processes.
func (c *Client) ConnectPipes(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}
	return c.attach(ctx, r, w)
}

// attach must be called with c.mu held.
func (c *Client) attach(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	c.stdout = r
	c.stdin = w
	c.encoder = json.NewEncoder(w)
	c.done = make(chan struct{})

	go c.readResponses(bufio.NewScanner(r), c.done)

	if err := c.initialize(ctx); err != nil {
		c.closeLocked()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	c.connected = true
	return nil
}

func (c *Client) readResponses(scanner *bufio.Scanner, done chan struct{}) {
	defer close(done)

	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		var reqID int64
		switch id := resp.ID.(type) {
		case float64:
			reqID = int64(id)
		case string:
			if _, err := fmt.Sscan(id, &reqID); err != nil {
				continue
			}
		default:
			// Notifications carry no id.
			continue
		}

		c.respMu.Lock()
		if ch, exists := c.responses[reqID]; exists {
			ch <- &resp
			delete(c.responses, reqID)
		}
		c.respMu.Unlock()
	}

	// The stream ended: fail every pending request.
	c.respMu.Lock()
	for id, ch := range c.responses {
		ch <- closedResponse()
		delete(c.responses, id)
	}
	c.respMu.Unlock()
}

func closedResponse() *rpcResponse {
	return &rpcResponse{Error: &rpcError{Code: -32000, Message: "server closed the connection"}}
}

func (c *Client) initialize(ctx context.Context) error {
	params := initParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    struct{}{},
		ClientInfo: ServerInfo{
			Name:    c.config.Name,
			Version: c.config.Version,
		},
	}

	var result initResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.serverInfo = &result.ServerInfo

	return c.write(rpcRequest{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
}

func (c *Client) write(req rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(req)
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.reqID.Add(1)

	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	respCh := make(chan *rpcResponse, 1)
	c.respMu.Lock()
	c.responses[id] = respCh
	c.respMu.Unlock()

	forget := func() {
		c.respMu.Lock()
		delete(c.responses, id)
		c.respMu.Unlock()
	}

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsBytes}
	if err := c.write(req); err != nil {
		forget()
		return fmt.Errorf("send request: %w", err)
	}

	var resp *rpcResponse
	select {
	case resp = <-respCh:
	case <-c.done:
		forget()
		select {
		case resp = <-respCh:
		default:
			resp = closedResponse()
		}
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}

	if resp.Error != nil {
		return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("parse %s result: %w", method, err)
	}
	return nil
}

// Close closes the connection and stops the server process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	c.connected = false

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
}

func (c *Client) ensureConnected() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// ListTools returns available tools from the server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDef, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool calls a tool on the server. A result flagged isError is
// returned as ErrToolFailed.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var result ToolResult
	if err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	if result.IsError {
		msg := result.Text()
		if msg == "" {
			msg = "tool execution failed"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrToolFailed, name, msg)
	}
	return &result, nil
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}
