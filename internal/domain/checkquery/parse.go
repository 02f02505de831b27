package checkquery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// ErrInvalidQuery is returned for queries that cannot be parsed or validated.
var ErrInvalidQuery = errors.New("invalid query")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTerm
)

type token struct {
	kind  tokenKind
	field string
	value string
	pos   int
}

func lex(q string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(q) {
		c := q[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokNot, pos: i})
			i++
		default:
			tok, next, err := lexWord(q, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(q)}), nil
}

func lexWord(q string, start int) (token, int, error) {
	i := start
	for i < len(q) && !isDelim(q[i]) && q[i] != ':' {
		i++
	}
	word := q[start:i]

	if i >= len(q) || q[i] != ':' {
		switch word {
		case "AND":
			return token{kind: tokAnd, pos: start}, i, nil
		case "OR":
			return token{kind: tokOr, pos: start}, i, nil
		case "NOT":
			return token{kind: tokNot, pos: start}, i, nil
		}
		return token{}, 0, fmt.Errorf("%w: unsupported query: %q at position %d", ErrInvalidQuery, word, start)
	}

	field := strings.ToLower(word)
	i++ // ':'

	if i < len(q) && q[i] == '"' {
		var b strings.Builder
		i++
		for {
			if i >= len(q) {
				return token{}, 0, fmt.Errorf("%w: unterminated quote at position %d", ErrInvalidQuery, start)
			}
			if q[i] == '\\' && i+1 < len(q) {
				b.WriteByte(q[i+1])
				i += 2
				continue
			}
			if q[i] == '"' {
				i++
				break
			}
			b.WriteByte(q[i])
			i++
		}
		return token{kind: tokTerm, field: field, value: b.String(), pos: start}, i, nil
	}

	vstart := i
	for i < len(q) && !isDelim(q[i]) {
		i++
	}
	if i == vstart {
		return token{}, 0, fmt.Errorf("%w: empty value for operator %q", ErrInvalidQuery, field)
	}
	return token{kind: tokTerm, field: field, value: q[vstart:i], pos: start}, i, nil
}

func isDelim(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Parse parses a query into a predicate tree. It does not validate anchoring;
// see Validate.
func Parse(q string) (*Node, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}

	toks, err := lex(q)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected token at position %d", ErrInvalidQuery, t.pos)
	}
	return n, nil
}

func (p *parser) parseOr() (*Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*Node{first}
	for p.peek().kind == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return Or(children...), nil
}

func (p *parser) parseAnd() (*Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []*Node{first}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokNot, tokTerm, tokLParen:
		default:
			if len(children) == 1 {
				return first, nil
			}
			return And(children...), nil
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
}

func (p *parser) parseUnary() (*Node, error) {
	t := p.next()
	switch t.kind {
	case tokNot:
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ')' for '(' at position %d", ErrInvalidQuery, t.pos)
		}
		return n, nil
	case tokTerm:
		return leaf(t)
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of query", ErrInvalidQuery)
	default:
		return nil, fmt.Errorf("%w: unexpected token at position %d", ErrInvalidQuery, t.pos)
	}
}

func leaf(t token) (*Node, error) {
	switch t.field {
	case FieldChecker:
		uuid, err := model.ParseCheckerUUID(t.value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid checker UUID: %s", ErrInvalidQuery, t.value)
		}
		return CheckerIs(uuid), nil
	case FieldScheme:
		return SchemeIs(t.value), nil
	case FieldState:
		state, ok := model.ParseCheckState(t.value)
		if !ok {
			return nil, fmt.Errorf("%w: invalid check state: %s", ErrInvalidQuery, t.value)
		}
		return StateIs(state), nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator: %s", ErrInvalidQuery, t.field)
	}
}
