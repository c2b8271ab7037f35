package resolver

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/tool"
)

// OverridesEnv names the environment variable read by OverridesFromEnv.
const OverridesEnv = "APL_TOOL_ENDPOINTS"

// Overrides maps "namespace.name" to an endpoint that replaces the
// registered one for a single run.
type Overrides map[string]string

// ParseOverrides parses "namespace.name=endpoint" entries.
func ParseOverrides(entries []string) (Overrides, error) {
	out := make(Overrides, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, endpoint, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		ns, name, dotted := strings.Cut(key, ".")
		if !ok || !dotted || ns == "" || name == "" || strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("%w: override %q must be namespace.name=endpoint", tool.ErrInvalidDescriptor, entry)
		}
		out[key] = strings.TrimSpace(endpoint)
	}
	return out, nil
}

// OverridesFromEnv reads comma-separated overrides from APL_TOOL_ENDPOINTS.
func OverridesFromEnv(lookup func(string) (string, bool)) (Overrides, error) {
	raw, ok := lookup(OverridesEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return Overrides{}, nil
	}
	return ParseOverrides(strings.Split(raw, ","))
}

// Merge returns o with other's entries taking precedence.
func (o Overrides) Merge(other Overrides) Overrides {
	out := make(Overrides, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
