package expr

import (
	"regexp"
	"strings"
)

var slotPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Slots returns the trimmed bodies of the {{...}} placeholders in s, in
// order of appearance, without duplicates.
func Slots(s string) []string {
	matches := slotPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	var slots []string
	seen := make(map[string]bool)
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			slots = append(slots, name)
		}
	}
	return slots
}

// IsIdent reports whether s is a valid non-keyword identifier.
func IsIdent(s string) bool {
	toks, _, err := Lex(s, 1, 1)
	if err != nil || len(toks) != 2 || toks[0].Kind != TokenIdent {
		return false
	}
	return !Keywords[s]
}

// Substitute replaces each {{name}} placeholder in s with the string form
// of the bound value.
func Substitute(s string, env Env) (string, error) {
	var firstErr error
	out := slotPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := env.Lookup(name)
		if !ok {
			if firstErr == nil {
				firstErr = &EvaluationError{Message: "undefined template variable " + name}
			}
			return m
		}
		return Stringify(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
