// Package secrets resolves env:NAME argument references from layered
// secret sources.
package secrets

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/apl/domain/run"
)

// ErrSecretNotFound is returned when no source holds a secret.
var ErrSecretNotFound = errors.New("secret not found")

// Manager is a read-only secret source.
type Manager interface {
	// Get retrieves a secret by name.
	Get(ctx context.Context, name string) (string, error)

	// List returns the secret names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// EnvManager reads secrets from the process environment.
type EnvManager struct {
	prefix string
}

// EnvOption configures the environment manager.
type EnvOption func(*EnvManager)

// WithPrefix maps secret NAME to environment variable prefix+NAME.
func WithPrefix(prefix string) EnvOption {
	return func(m *EnvManager) {
		m.prefix = prefix
	}
}

// NewEnvManager creates an environment-backed manager.
func NewEnvManager(opts ...EnvOption) *EnvManager {
	m := &EnvManager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Manager. An empty variable counts as set.
func (m *EnvManager) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := os.LookupEnv(m.prefix + name)
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

// List implements Manager.
func (m *EnvManager) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := m.prefix + prefix
	var names []string
	for _, kv := range os.Environ() {
		k, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, full) {
			names = append(names, strings.TrimPrefix(k, m.prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// MemoryManager holds secrets in memory, typically loaded from a .env file.
type MemoryManager struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryManager creates a manager holding a copy of secrets.
func NewMemoryManager(secrets map[string]string) *MemoryManager {
	m := &MemoryManager{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		m.secrets[k] = v
	}
	return m
}

// Set stores a secret.
func (m *MemoryManager) Set(name, value string) {
	m.mu.Lock()
	m.secrets[name] = value
	m.mu.Unlock()
}

// Get implements Manager.
func (m *MemoryManager) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[name]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

// List implements Manager.
func (m *MemoryManager) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.secrets {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ChainedManager reads through managers in order until one has the secret.
type ChainedManager struct {
	managers []Manager
}

// NewChainedManager creates a chained manager.
func NewChainedManager(managers ...Manager) *ChainedManager {
	return &ChainedManager{managers: managers}
}

// Get implements Manager. Errors other than ErrSecretNotFound stop the
// chain.
func (m *ChainedManager) Get(ctx context.Context, name string) (string, error) {
	for _, mgr := range m.managers {
		v, err := mgr.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", ErrSecretNotFound
}

// List implements Manager, deduplicating names across managers.
func (m *ChainedManager) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, mgr := range m.managers {
		got, err := mgr.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, n := range got {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Lookup adapts m to the run's env:NAME resolver.
func Lookup(ctx context.Context, m Manager) run.EnvLookup {
	return func(name string) (string, bool) {
		v, err := m.Get(ctx, name)
		return v, err == nil
	}
}

var (
	_ Manager = (*EnvManager)(nil)
	_ Manager = (*MemoryManager)(nil)
	_ Manager = (*ChainedManager)(nil)
)
