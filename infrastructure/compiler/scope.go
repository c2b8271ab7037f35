package compiler

// scope maps visible variable names to the ids of the nodes (or steps)
// that may have produced their current value.
type scope struct {
	vars map[string][]string
}

func newScope() *scope {
	return &scope{vars: make(map[string][]string)}
}

func (s *scope) clone() *scope {
	out := newScope()
	for k, v := range s.vars {
		out.vars[k] = append([]string(nil), v...)
	}
	return out
}

func (s *scope) define(name string, producers ...string) {
	s.vars[name] = append([]string(nil), producers...)
}

func (s *scope) lookup(name string) ([]string, bool) {
	p, ok := s.vars[name]
	return p, ok
}

// restore sets name back to its binding in outer, or removes it.
func (s *scope) restore(name string, outer *scope) {
	if p, ok := outer.vars[name]; ok {
		s.vars[name] = p
		return
	}
	delete(s.vars, name)
}

// merge joins the scopes of two branches. A variable stays visible only
// if both branches define it; its producers are the union.
func merge(then, els *scope) *scope {
	out := newScope()
	for name, tp := range then.vars {
		ep, ok := els.vars[name]
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(tp)+len(ep))
		var producers []string
		for _, p := range append(append([]string(nil), tp...), ep...) {
			if !seen[p] {
				seen[p] = true
				producers = append(producers, p)
			}
		}
		out.vars[name] = producers
	}
	return out
}
