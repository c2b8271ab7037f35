package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// DefaultStoreBasePath is reported by the simulated store primitive.
const DefaultStoreBasePath = "/tmp/apl_storage"

// DefaultMockModel names the model in simulated call_llm output.
const DefaultMockModel = "mock"

// Simulated builds deterministic fixture proxies. The same arguments
// always produce the same output, so simulated runs are replayable.
type Simulated struct {
	fixtures map[string]json.RawMessage
	basePath string
}

// SimulatedOption configures a Simulated factory.
type SimulatedOption func(*Simulated)

// WithFixture sets the canned output of a tool. key is "ns.name" or
// "ns.name.operation"; the more specific key wins.
func WithFixture(key string, output json.RawMessage) SimulatedOption {
	return func(s *Simulated) {
		s.fixtures[key] = output
	}
}

// WithFixtures sets several canned outputs.
func WithFixtures(fixtures map[string]json.RawMessage) SimulatedOption {
	return func(s *Simulated) {
		for k, v := range fixtures {
			s.fixtures[k] = v
		}
	}
}

// WithStoreBasePath sets the base path reported by store.
func WithStoreBasePath(path string) SimulatedOption {
	return func(s *Simulated) {
		s.basePath = path
	}
}

// NewSimulated creates a fixture factory.
func NewSimulated(opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		fixtures: make(map[string]json.RawMessage),
		basePath: DefaultStoreBasePath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewProxy implements tool.Factory.
func (s *Simulated) NewProxy(d tool.Descriptor) (tool.Proxy, error) {
	if d.Namespace == tool.BuiltinNamespace {
		switch d.Name {
		case tool.PrimitiveCallLLM:
			return tool.NewFuncProxy(d, mockLLM), nil
		case tool.PrimitiveFetch:
			return tool.NewFuncProxy(d, mockFetch), nil
		case tool.PrimitiveStore:
			return tool.NewFuncProxy(d, s.mockStore), nil
		}
	}
	return tool.NewFuncProxy(d, func(_ context.Context, inv tool.Invocation) (tool.Result, error) {
		return s.fixture(d, inv)
	}), nil
}

func mockLLM(_ context.Context, inv tool.Invocation) (tool.Result, error) {
	model, _ := inv.Args["model"].(string)
	if model == "" {
		model = DefaultMockModel
	}
	prompt := strings.TrimSpace(expr.Stringify(inv.Args["prompt"]))
	return tool.NewValueResult(fmt.Sprintf("[mocked:%s] %s", model, prompt))
}

func mockFetch(_ context.Context, inv tool.Invocation) (tool.Result, error) {
	return tool.NewValueResult(fmt.Sprintf("fetched(%s)", expr.Stringify(inv.Args["url"])))
}

func (s *Simulated) mockStore(_ context.Context, inv tool.Invocation) (tool.Result, error) {
	key, content, _, err := storeArgs(inv.Args)
	if err != nil {
		return tool.Result{}, err
	}
	return tool.NewValueResult(storeOutput{
		Status: "ok",
		Key:    key,
		Value:  inv.Args["value"],
		Meta: storeMeta{
			Agent:          inv.Agent,
			RequestingTask: inv.Routine,
			Key:            key,
			Size:           len(content),
			BasePath:       s.basePath,
		},
	})
}

// fixture returns the canned output for d, or an echo of the call.
func (s *Simulated) fixture(d tool.Descriptor, inv tool.Invocation) (tool.Result, error) {
	if inv.Operation != "" {
		if out, ok := s.fixtures[d.Key()+"."+inv.Operation]; ok {
			return tool.NewResult(out), nil
		}
	}
	if out, ok := s.fixtures[d.Key()]; ok {
		return tool.NewResult(out), nil
	}

	args := inv.Args
	if args == nil {
		args = map[string]any{}
	}
	echo := map[string]any{
		"tool": d.Key(),
		"args": args,
	}
	if inv.Operation != "" {
		echo["operation"] = inv.Operation
	}
	return tool.NewValueResult(echo)
}

var _ tool.Factory = (*Simulated)(nil)
