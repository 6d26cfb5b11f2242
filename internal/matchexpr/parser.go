package matchexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type parser struct {
	toks []token
	pos  int
}

// parse builds a typed AST from src. Only the constructs in the grammar
// below are accepted; any other identifier, call or member access fails.
//
//	expr       = or
//	or         = and { "||" and }
//	and        = unary { "&&" unary }
//	unary      = "!" unary | comparison
//	comparison = primary [ ("==" | "!=") primary ]
//	primary    = "(" expr ")" | string | number | "true" | "false"
//	           | regex "." "test" "(" expr ")" | field
//	field      = "target" member { member }
//	member     = "." ident | "[" string "]"
func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("expression is blank")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at %d", t.kind, t.pos)
	}
	if n.typ() != typeBool {
		return nil, fmt.Errorf("expression evaluates to a %s, not a boolean", n.typ())
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s but found %s at %d", kind, t.kind, t.pos)
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := requireBool(op, left, right); err != nil {
			return nil, err
		}
		left = logical{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := requireBool(op, left, right); err != nil {
			return nil, err
		}
		left = logical{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := requireBool(op, operand); err != nil {
			return nil, err
		}
		return not{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokEq, tokNeq:
		op := p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compare{negate: op.kind == tokNeq, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return n, nil
	case tokString:
		return stringLit{value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return numberLit{value: f}, nil
	case tokRegex:
		return p.parseRegexTest(t)
	case tokIdent:
		switch t.text {
		case "true":
			return boolLit{value: true}, nil
		case "false":
			return boolLit{value: false}, nil
		case "target":
			return p.parseField()
		}
		return nil, fmt.Errorf("unknown identifier %q at %d", t.text, t.pos)
	}
	return nil, fmt.Errorf("unexpected %s at %d", t.kind, t.pos)
}

func (p *parser) parseRegexTest(t token) (node, error) {
	if _, err := p.expect(tokDot); err != nil {
		return nil, err
	}
	m, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if m.text != "test" {
		return nil, fmt.Errorf("regular expressions only support test(), found %q at %d", m.text, m.pos)
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	operand, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	if operand.typ() != typeString {
		return nil, fmt.Errorf("test() expects a string argument, found %s", operand.typ())
	}
	re, err := compileRegex(t.text, t.flag)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression at %d: %w", t.pos, err)
	}
	return regexTest{re: re, operand: operand}, nil
}

// parseField reads the member chain after "target" and resolves it to one
// of the known target fields.
func (p *parser) parseField() (node, error) {
	var path []string
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			id, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			path = append(path, id.text)
			continue
		case tokLBrack:
			p.next()
			key, err := p.expect(tokString)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBrack); err != nil {
				return nil, err
			}
			path = append(path, key.text)
			continue
		case tokLParen:
			return nil, fmt.Errorf("function calls are not allowed (target.%s)", strings.Join(path, "."))
		}
		break
	}
	return resolveField(path)
}

func resolveField(path []string) (node, error) {
	ref := "target." + strings.Join(path, ".")
	switch {
	case len(path) == 1 && path[0] == "alias":
		return fieldRef{kind: fieldAlias}, nil
	case len(path) == 1 && path[0] == "connectUrl":
		return fieldRef{kind: fieldConnectURL}, nil
	case len(path) == 1 && path[0] == "jvmId":
		return fieldRef{kind: fieldJvmID}, nil
	case len(path) == 2 && path[0] == "labels":
		return fieldRef{kind: fieldLabel, key: path[1]}, nil
	case len(path) == 3 && path[0] == "annotations" && path[1] == "cryostat":
		return fieldRef{kind: fieldCryostatAnnotation, key: path[2]}, nil
	case len(path) == 3 && path[0] == "annotations" && path[1] == "platform":
		return fieldRef{kind: fieldPlatformAnnotation, key: path[2]}, nil
	}
	return nil, fmt.Errorf("unknown field %q", ref)
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i':
			prefix += "i"
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		case 'g', 'u':
			// no effect on a single test()
		default:
			return nil, fmt.Errorf("unsupported flag %q", f)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func requireBool(op token, operands ...node) error {
	for _, n := range operands {
		if n.typ() != typeBool {
			return fmt.Errorf("operator %s at %d expects boolean operands, found %s", op.kind, op.pos, n.typ())
		}
	}
	return nil
}
