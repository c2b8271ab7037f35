// Package n8n exports routines annotated with `# n8n: trigger ...` as an
// n8n workflow: one webhook node per routine, wired to an HTTP request
// node that calls the APL runtime.
package n8n

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/syntax"
)

// DefaultName is used when the program is unnamed.
const DefaultName = "APL Export"

// DefaultRuntimeURL is an n8n expression reading the runtime URL from the
// incoming payload or the n8n environment.
const DefaultRuntimeURL = "={{ $json.aplRuntimeUrl || $env.APL_RUNTIME_URL }}"

const (
	webhookNodeType = "n8n-nodes-base.webhook"
	httpNodeType    = "n8n-nodes-base.httpRequest"
	columnWidth     = 200
	rowHeight       = 250
)

var (
	// ErrNoTriggers is returned when no routine carries trigger metadata.
	ErrNoTriggers = errors.New("no routines annotated with `# n8n: trigger ...`")

	// ErrUnsupportedTrigger is returned for trigger types other than webhook.
	ErrUnsupportedTrigger = errors.New("unsupported n8n trigger type")
)

// Workflow is the n8n workflow document.
type Workflow struct {
	Name        string                `json:"name"`
	Nodes       []Node                `json:"nodes"`
	Connections map[string]Connection `json:"connections"`
	Settings    Settings              `json:"settings"`
	Meta        Meta                  `json:"meta"`
}

// Node is one n8n node.
type Node struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion int            `json:"typeVersion"`
	Position    [2]int         `json:"position"`
	Parameters  map[string]any `json:"parameters"`
}

// Connection lists the main outputs of a node.
type Connection struct {
	Main [][]Target `json:"main"`
}

// Target is one connection endpoint.
type Target struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Settings are workflow execution settings.
type Settings struct {
	ExecutionOrder string  `json:"executionOrder"`
	ErrorWorkflow  *string `json:"errorWorkflow"`
}

// Meta carries APL provenance.
type Meta struct {
	APL AplMeta `json:"apl"`
}

// AplMeta describes the exported program.
type AplMeta struct {
	Program string               `json:"program"`
	Agents  map[string]AgentMeta `json:"agents"`
}

// AgentMeta summarizes one agent.
type AgentMeta struct {
	Routines     []string `json:"routines"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Options configures the export.
type Options struct {
	// RuntimeURL overrides DefaultRuntimeURL for routines without a
	// runtimeUrl trigger key.
	RuntimeURL string
}

// Export builds the workflow for prog.
func Export(prog *syntax.Program, opts Options) (*Workflow, error) {
	runtimeURL := opts.RuntimeURL
	if runtimeURL == "" {
		runtimeURL = DefaultRuntimeURL
	}

	wf := &Workflow{
		Name:        prog.Name,
		Nodes:       []Node{},
		Connections: map[string]Connection{},
		Settings:    Settings{ExecutionOrder: "v1"},
		Meta:        Meta{APL: AplMeta{Program: prog.Name, Agents: map[string]AgentMeta{}}},
	}
	if wf.Name == "" {
		wf.Name = DefaultName
	}
	if ew, ok := prog.Meta["errorWorkflow"]; ok {
		wf.Settings.ErrorWorkflow = &ew
	}

	index := 0
	for _, a := range prog.Agents {
		meta := AgentMeta{Routines: []string{}}
		for _, c := range a.Capabilities {
			meta.Capabilities = append(meta.Capabilities, c.Name)
		}
		for _, r := range a.Routines {
			meta.Routines = append(meta.Routines, r.Name)
			if r.Trigger == nil || r.Trigger.Platform != "n8n" {
				continue
			}
			index++
			if err := wf.addTrigger(a, r, index, runtimeURL); err != nil {
				return nil, err
			}
		}
		wf.Meta.APL.Agents[a.Name] = meta
	}
	if index == 0 {
		return nil, ErrNoTriggers
	}
	return wf, nil
}

func (wf *Workflow) addTrigger(a *syntax.Agent, r *syntax.Routine, index int, runtimeURL string) error {
	qualified := a.Name + "." + r.Name
	if r.Trigger.Type != "webhook" {
		return fmt.Errorf("%w %q for routine %s", ErrUnsupportedTrigger, r.Trigger.Type, qualified)
	}
	cfg := r.Trigger.Config
	get := func(key, def string) string {
		if v, ok := cfg[key]; ok && v != "" {
			return v
		}
		return def
	}

	base := strings.ReplaceAll(qualified, ".", "_")
	x := columnWidth * (index - 1)

	webhookName := qualified + " Trigger"
	wf.Nodes = append(wf.Nodes, Node{
		ID:          fmt.Sprintf("Webhook_%d", index),
		Name:        webhookName,
		Type:        webhookNodeType,
		TypeVersion: 1,
		Position:    [2]int{x, 0},
		Parameters: map[string]any{
			"path":             strings.TrimPrefix(get("path", "/"+strings.ToLower(base)), "/"),
			"options":          map[string]any{},
			"httpMethod":       strings.ToUpper(get("method", "POST")),
			"responseMode":     get("responseMode", "onReceived"),
			"responseDataType": get("responseDataType", "json"),
		},
	})

	body, err := json.MarshalIndent(map[string]any{
		"routine": qualified,
		"args":    nonNil(r.Params),
		"steps":   stepTexts(r.Body),
	}, "", "  ")
	if err != nil {
		return err
	}

	httpName := qualified + " -> APL Runtime"
	wf.Nodes = append(wf.Nodes, Node{
		ID:          fmt.Sprintf("HttpRequest_%d", index),
		Name:        httpName,
		Type:        httpNodeType,
		TypeVersion: 3,
		Position:    [2]int{x, rowHeight},
		Parameters: map[string]any{
			"url":                get("runtimeUrl", runtimeURL),
			"options":            map[string]any{},
			"method":             "POST",
			"sendBody":           true,
			"jsonParameters":     true,
			"bodyParametersJson": string(body),
		},
	})

	wf.Connections[webhookName] = Connection{
		Main: [][]Target{{{Node: httpName, Type: "main", Index: 0}}},
	}
	return nil
}

func stepTexts(steps []*syntax.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Text)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Marshal renders wf as indented JSON.
func Marshal(wf *Workflow) ([]byte, error) {
	return json.MarshalIndent(wf, "", "  ")
}
