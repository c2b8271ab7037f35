// Package capability models capability manifests, run grants and the
// per-run capability manager that gates side-effectful steps.
package capability

import (
	"sort"
	"strconv"
)

// Well-known capabilities required implicitly by built-in primitives.
const (
	Network = "network"
	Storage = "storage"
)

// ParamLimit is the scalar parameter holding a spend limit.
const ParamLimit = "limit"

// ParamAmount is the step argument consumed against a spend limit.
const ParamAmount = "amount"

// Params holds scalar capability parameters.
type Params map[string]string

// Limit returns the numeric spend limit, if one is set.
func (p Params) Limit() (float64, bool) {
	raw, ok := p[ParamLimit]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Clone returns a copy of p; nil stays nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Manifest maps capability names to their parameters.
type Manifest map[string]Params

// Has reports whether the manifest contains name.
func (m Manifest) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// Names returns the capability names in ascending order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of m. The result is never nil.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Missing returns the entries of required absent from m, in order.
func (m Manifest) Missing(required []string) []string {
	var missing []string
	for _, r := range required {
		if !m.Has(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Merge returns the union of m and other. When both declare the same
// parameter, the smaller numeric limit wins; other conflicts keep m's value.
func (m Manifest) Merge(other Manifest) Manifest {
	out := m.Clone()
	for name, params := range other {
		existing, ok := out[name]
		if !ok {
			out[name] = params.Clone()
			continue
		}
		out[name] = mergeParams(existing, params)
	}
	return out
}

func mergeParams(a, b Params) Params {
	if len(b) == 0 {
		return a
	}
	out := a.Clone()
	if out == nil {
		out = make(Params, len(b))
	}
	for k, v := range b {
		cur, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		if k == ParamLimit {
			x, errX := strconv.ParseFloat(cur, 64)
			y, errY := strconv.ParseFloat(v, 64)
			if errX == nil && errY == nil && y < x {
				out[k] = v
			}
		}
	}
	return out
}
