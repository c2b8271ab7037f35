package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Pos is a 1-based line and column in source text.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String returns "line:column".
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// IsValid reports whether the position was set.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenInt
	TokenFloat
	TokenString
	TokenOp
)

// String returns a readable name for the token kind.
func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of line"
	case TokenIdent:
		return "identifier"
	case TokenInt:
		return "integer"
	case TokenFloat:
		return "float"
	case TokenString:
		return "string"
	case TokenOp:
		return "operator"
	default:
		return "unknown"
	}
}

// Token is a single lexical token.
type Token struct {
	Kind TokenKind
	// Text is the raw source text (or the operator).
	Text string
	// Str holds the unquoted value of a string token.
	Str string
	Pos Pos
}

// Is reports whether the token is the given operator or identifier text.
func (t Token) Is(text string) bool {
	return (t.Kind == TokenOp || t.Kind == TokenIdent) && t.Text == text
}

var twoCharOps = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true,
}

const singleCharOps = "()[]{},:.=<>+-*/%"

// Lex tokenizes a single source line. Scanning stops at a '#' outside a
// string literal; the comment text after it is returned separately.
// col is the 1-based column of the first rune of line.
func Lex(line string, lineNo, col int) ([]Token, string, error) {
	var (
		toks    []Token
		comment string
	)

	i := 0
	c := col
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, "", &SyntaxError{Pos: Pos{lineNo, c}, Message: "invalid UTF-8 encoding"}
		}
		pos := Pos{Line: lineNo, Column: c}

		switch {
		case unicode.IsSpace(r):
			i += size
			c++

		case r == '#':
			comment = strings.TrimSpace(line[i+1:])
			i = len(line)

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(line) {
				r, size = utf8.DecodeRuneInString(line[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
				c++
			}
			toks = append(toks, Token{Kind: TokenIdent, Text: line[start:i], Pos: pos})

		case r >= '0' && r <= '9':
			start := i
			kind := TokenInt
			for i < len(line) && line[i] >= '0' && line[i] <= '9' {
				i++
			}
			if i+1 < len(line) && line[i] == '.' && line[i+1] >= '0' && line[i+1] <= '9' {
				kind = TokenFloat
				i++
				for i < len(line) && line[i] >= '0' && line[i] <= '9' {
					i++
				}
			}
			if i < len(line) && (line[i] == 'e' || line[i] == 'E') {
				j := i + 1
				if j < len(line) && (line[j] == '+' || line[j] == '-') {
					j++
				}
				if j < len(line) && line[j] >= '0' && line[j] <= '9' {
					kind = TokenFloat
					i = j
					for i < len(line) && line[i] >= '0' && line[i] <= '9' {
						i++
					}
				}
			}
			c += i - start
			toks = append(toks, Token{Kind: kind, Text: line[start:i], Pos: pos})

		case r == '"' || r == '\'':
			end, err := scanString(line, i, byte(r))
			if err != nil {
				return nil, "", &SyntaxError{Pos: pos, Message: err.Error()}
			}
			raw := line[i:end]
			value, err := unquote(raw)
			if err != nil {
				return nil, "", &SyntaxError{Pos: pos, Message: "invalid string literal: " + err.Error()}
			}
			toks = append(toks, Token{Kind: TokenString, Text: raw, Str: value, Pos: pos})
			c += utf8.RuneCountInString(raw)
			i = end

		default:
			if i+1 < len(line) && twoCharOps[line[i:i+2]] {
				toks = append(toks, Token{Kind: TokenOp, Text: line[i : i+2], Pos: pos})
				i += 2
				c += 2
				continue
			}
			if strings.ContainsRune(singleCharOps, r) {
				toks = append(toks, Token{Kind: TokenOp, Text: string(r), Pos: pos})
				i += size
				c++
				continue
			}
			return nil, "", &SyntaxError{Pos: pos, Message: fmt.Sprintf("unexpected character %q", r)}
		}
	}

	toks = append(toks, Token{Kind: TokenEOF, Pos: Pos{Line: lineNo, Column: c}})
	return toks, comment, nil
}

// scanString returns the byte offset just past the closing quote.
func scanString(line string, start int, quote byte) (int, error) {
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case quote:
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unterminated string literal")
}

func unquote(raw string) (string, error) {
	if raw[0] == '"' {
		return strconv.Unquote(raw)
	}
	// Rewrite a single-quoted literal into double-quoted form.
	body := raw[1 : len(raw)-1]
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] == '\\' && i+1 < len(body) && body[i+1] == '\'':
			b.WriteByte('\'')
			i++
		case body[i] == '\\' && i+1 < len(body):
			b.WriteByte('\\')
			b.WriteByte(body[i+1])
			i++
		case body[i] == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(body[i])
		}
	}
	b.WriteByte('"')
	return strconv.Unquote(b.String())
}
