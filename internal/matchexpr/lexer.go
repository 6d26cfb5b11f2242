package matchexpr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokRegex
	tokEq     // == or ===
	tokNeq    // != or !==
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokLParen // (
	tokRParen // )
	tokLBrack // [
	tokRBrack // ]
	tokDot    // .
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokRegex:
		return "regular expression"
	case tokEq:
		return "'=='"
	case tokNeq:
		return "'!='"
	case tokAnd:
		return "'&&'"
	case tokOr:
		return "'||'"
	case tokNot:
		return "'!'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBrack:
		return "'['"
	case tokRBrack:
		return "']'"
	case tokDot:
		return "'.'"
	}
	return "unknown token"
}

type token struct {
	kind tokenKind
	text string // identifier name, unquoted string, number text or regex pattern
	flag string // regex flags
	pos  int
}

// lex splits src into tokens. It never interprets identifiers; the parser
// decides which ones are allowed.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '\'' || r == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case r == '/':
			pattern, flags, n, err := lexRegex(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokRegex, text: pattern, flag: flags, pos: i})
			i += n
		case isDigit(r) || (r == '-' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (isDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case r == '_' || r == '$' || unicode.IsLetter(r):
			j := i + size
			for j < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[j:])
				if r2 != '_' && r2 != '$' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += s2
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			kind, n := lexOperator(src[i:])
			if n == 0 {
				return nil, fmt.Errorf("unexpected character %q at %d", r, i)
			}
			toks = append(toks, token{kind: kind, pos: i})
			i += n
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func lexOperator(s string) (tokenKind, int) {
	switch {
	case strings.HasPrefix(s, "==="):
		return tokEq, 3
	case strings.HasPrefix(s, "!=="):
		return tokNeq, 3
	case strings.HasPrefix(s, "=="):
		return tokEq, 2
	case strings.HasPrefix(s, "!="):
		return tokNeq, 2
	case strings.HasPrefix(s, "&&"):
		return tokAnd, 2
	case strings.HasPrefix(s, "||"):
		return tokOr, 2
	}
	switch s[0] {
	case '!':
		return tokNot, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '[':
		return tokLBrack, 1
	case ']':
		return tokRBrack, 1
	case '.':
		return tokDot, 1
	}
	return tokEOF, 0
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1 - start, nil
		case c == '\\' && i+1 < len(src):
			switch next := src[i+1]; next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at %d", start)
}

func lexRegex(src string, start int) (pattern, flags string, n int, err error) {
	var b strings.Builder
	i := start + 1
	inClass := false
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			if src[i+1] == '/' {
				b.WriteByte('/')
			} else {
				b.WriteByte(c)
				b.WriteByte(src[i+1])
			}
			i += 2
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			j := i + 1
			for j < len(src) && unicode.IsLetter(rune(src[j])) {
				j++
			}
			return b.String(), src[i+1 : j], j - start, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", "", 0, fmt.Errorf("unterminated regular expression starting at %d", start)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
