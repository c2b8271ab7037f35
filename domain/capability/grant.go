package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// Allowance is the invoking environment's permission for one capability.
type Allowance struct {
	Allowed bool   `json:"allowed" yaml:"allowed"`
	Params  Params `json:"params,omitempty" yaml:"params,omitempty"`
}

// Allowlist is the operator-provided set of allowances. The zero value
// grants nothing.
type Allowlist map[string]Allowance

// ParseAllowlist parses entries of the form "name", "name=false" or
// "name:key=value,key=value".
func ParseAllowlist(entries []string) (Allowlist, error) {
	out := make(Allowlist, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, hasParams := strings.Cut(entry, ":")
		allowance := Allowance{Allowed: true}
		if n, v, ok := strings.Cut(name, "="); ok && !hasParams {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("allowance %q: %w", entry, err)
			}
			name, allowance.Allowed = n, b
		}
		if hasParams {
			allowance.Params = make(Params)
			for _, kv := range strings.Split(rest, ",") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return nil, fmt.Errorf("allowance %q: malformed parameter %q", entry, kv)
				}
				allowance.Params[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("allowance %q: empty capability name", entry)
		}
		out[name] = allowance
	}
	return out, nil
}

// Intersect returns the capabilities present in declared and allowed by
// allow. Parameters from both sides are merged with the smaller limit
// winning.
func Intersect(declared Manifest, allow Allowlist) Manifest {
	out := make(Manifest)
	for name, params := range declared {
		a, ok := allow[name]
		if !ok || !a.Allowed {
			continue
		}
		out[name] = mergeParams(params.Clone(), a.Params)
	}
	return out
}
