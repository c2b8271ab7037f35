package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mcpgo "github.com/felixgeelhaar/mcp-go"
	mcpserver "github.com/felixgeelhaar/mcp-go/server"
)

// Routine describes one compiled routine exposed as an MCP tool.
type Routine struct {
	Agent       string
	Name        string
	Description string
	Params      []string
}

// ToolName returns the MCP tool name of the routine, "agent_routine".
func (r Routine) ToolName() string {
	return r.Agent + "_" + r.Name
}

// RunFunc executes a routine and returns its value.
type RunFunc func(ctx context.Context, agent, routine string, args map[string]any) (any, error)

// ServerConfig configures a routine server.
type ServerConfig struct {
	// Name is the server name.
	Name string

	// Version is the server version.
	Version string

	// Description is an optional server description.
	Description string

	// Instructions provides usage instructions for clients.
	Instructions string

	// Routines are the routines to expose.
	Routines []Routine

	// Run executes a routine call.
	Run RunFunc
}

// Server wraps an mcp-go server exposing compiled routines.
type Server struct {
	srv      *mcpgo.Server
	run      RunFunc
	routines map[string]Routine
}

// NewServer creates a server with one tool per routine.
func NewServer(cfg ServerConfig) *Server {
	info := mcpgo.ServerInfo{
		Name:        cfg.Name,
		Version:     cfg.Version,
		Description: cfg.Description,
		Capabilities: mcpgo.Capabilities{
			Tools: true,
		},
	}

	var opts []mcpgo.Option
	if cfg.Instructions != "" {
		opts = append(opts, mcpgo.WithInstructions(cfg.Instructions))
	}

	s := &Server{
		srv:      mcpgo.NewServer(info, opts...),
		run:      cfg.Run,
		routines: make(map[string]Routine, len(cfg.Routines)),
	}
	for _, r := range cfg.Routines {
		s.register(r)
	}
	return s
}

func (s *Server) register(r Routine) {
	s.routines[r.ToolName()] = r

	desc := r.Description
	if desc == "" {
		desc = fmt.Sprintf("Run routine %s of agent %s", r.Name, r.Agent)
	}
	if len(r.Params) > 0 {
		desc += " (params: " + strings.Join(r.Params, ", ") + ")"
	}

	name := r.ToolName()
	s.srv.Tool(name).
		Description(desc).
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			return s.Handle(ctx, name, input)
		})
}

// Tools returns the exposed tool names in order.
func (s *Server) Tools() []string {
	names := make([]string, 0, len(s.routines))
	for name := range s.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs the routine behind tool name with JSON object arguments and
// returns the JSON-encoded value.
func (s *Server) Handle(ctx context.Context, name string, input json.RawMessage) (string, error) {
	r, ok := s.routines[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if s.run == nil {
		return "", fmt.Errorf("no runner configured for %q", name)
	}

	args := map[string]any{}
	if trimmed := bytes.TrimSpace(input); len(trimmed) > 0 && string(trimmed) != "null" {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return "", fmt.Errorf("arguments of %s must be a JSON object: %w", name, err)
		}
	}

	value, err := s.run(ctx, r.Agent, r.Name, args)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode result of %s: %w", name, err)
	}
	return string(out), nil
}

// Server returns the underlying mcp-go server.
func (s *Server) Server() *mcpgo.Server {
	return s.srv
}

// Use adds middleware to the server.
func (s *Server) Use(middlewares ...mcpserver.Middleware) {
	s.srv.Use(middlewares...)
}

// ServeStdio runs the server over stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context, opts ...mcpgo.ServeOption) error {
	return mcpgo.ServeStdio(ctx, s.srv, opts...)
}

// ServeHTTP runs the server over HTTP with SSE.
func (s *Server) ServeHTTP(ctx context.Context, addr string, opts ...mcpgo.HTTPOption) error {
	return mcpgo.ServeHTTP(ctx, s.srv, addr, opts...)
}
