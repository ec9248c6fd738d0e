package lang

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOp
	tokenLParen
	tokenRParen
	tokenComma
	tokenDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// lex tokenizes a source expression. The token set is deliberately small:
// there is no assignment, no statement separator, and no way to spell a loop.
func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			seenDot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !seenDot)) {
				if runes[i] == '.' {
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[start:i]), start})
		case r == '"' || r == '\'':
			quote := r
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
			}
			tokens = append(tokens, token{tokenString, sb.String(), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[start:i]), start})
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case r == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++
		case r == '.':
			tokens = append(tokens, token{tokenDot, ".", i})
			i++
		case strings.ContainsRune("+-*/%<>=!&|", r):
			start := i
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				switch two {
				case "<=", ">=", "==", "!=", "&&", "||":
					tokens = append(tokens, token{tokenOp, two, start})
					i += 2
					continue
				}
			}
			op := string(r)
			switch op {
			case "=", "&", "|":
				return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected %q", op)}
			}
			tokens = append(tokens, token{tokenOp, op, start})
			i++
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", string(r))}
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(runes)})
	return tokens, nil
}
