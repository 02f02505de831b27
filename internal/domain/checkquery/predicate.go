// Package checkquery parses and evaluates queries over checks, such as
// "checker:ci:lint state:FAILED" or "scheme:ci (state:SCHEDULED OR state:RUNNING)".
package checkquery

import (
	"strings"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// Operator names accepted in queries.
const (
	FieldChecker = "checker"
	FieldScheme  = "scheme"
	FieldState   = "state"
)

// Kind discriminates predicate nodes.
type Kind int

const (
	KindAnd Kind = iota
	KindOr
	KindNot
	KindChecker
	KindScheme
	KindState
)

// Node is a predicate over a check. Composite nodes (And, Or, Not) carry
// Children; leaves carry the payload matching their Kind.
type Node struct {
	Kind     Kind
	Children []*Node

	Checker model.CheckerUUID // KindChecker
	Scheme  string            // KindScheme, lower-case
	State   model.CheckState  // KindState
}

// And builds a conjunction.
func And(children ...*Node) *Node { return &Node{Kind: KindAnd, Children: children} }

// Or builds a disjunction.
func Or(children ...*Node) *Node { return &Node{Kind: KindOr, Children: children} }

// Not negates child.
func Not(child *Node) *Node { return &Node{Kind: KindNot, Children: []*Node{child}} }

// CheckerIs matches checks of one checker.
func CheckerIs(uuid model.CheckerUUID) *Node { return &Node{Kind: KindChecker, Checker: uuid} }

// SchemeIs matches checks whose checker has the given scheme.
func SchemeIs(scheme string) *Node {
	return &Node{Kind: KindScheme, Scheme: strings.ToLower(scheme)}
}

// StateIs matches checks in the given state.
func StateIs(state model.CheckState) *Node { return &Node{Kind: KindState, State: state} }

// IsLeaf reports whether n is an operator leaf.
func (n *Node) IsLeaf() bool {
	return n.Kind == KindChecker || n.Kind == KindScheme || n.Kind == KindState
}

// IsAnchor reports whether n is a checker or scheme leaf.
func (n *Node) IsAnchor() bool {
	return n.Kind == KindChecker || n.Kind == KindScheme
}

// Cost is the evaluation cost used to order children. Every operator is an
// in-memory comparison, so the cost is always 0.
func (n *Node) Cost() int { return 0 }

// Match evaluates the predicate against a check.
func (n *Node) Match(c model.Check) bool {
	switch n.Kind {
	case KindAnd:
		for _, child := range n.Children {
			if !child.Match(c) {
				return false
			}
		}
		return true
	case KindOr:
		for _, child := range n.Children {
			if child.Match(c) {
				return true
			}
		}
		return false
	case KindNot:
		return !n.Children[0].Match(c)
	case KindChecker:
		return c.Key.CheckerUUID == n.Checker
	case KindScheme:
		return c.Key.CheckerUUID.Scheme() == n.Scheme
	case KindState:
		return c.State == n.State
	default:
		panic("checkquery: unknown predicate kind")
	}
}

// String renders n in query syntax. Parsing the result yields an equivalent tree.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, false)
	return b.String()
}

func (n *Node) write(b *strings.Builder, nested bool) {
	switch n.Kind {
	case KindAnd, KindOr:
		sep := " "
		if n.Kind == KindOr {
			sep = " OR "
		}
		if nested {
			b.WriteByte('(')
		}
		for i, child := range n.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			child.write(b, true)
		}
		if nested {
			b.WriteByte(')')
		}
	case KindNot:
		b.WriteString("NOT ")
		n.Children[0].write(b, true)
	case KindChecker:
		b.WriteString(FieldChecker + ":" + quoteIfNeeded(n.Checker.String()))
	case KindScheme:
		b.WriteString(FieldScheme + ":" + quoteIfNeeded(n.Scheme))
	case KindState:
		b.WriteString(FieldState + ":" + string(n.State))
	}
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " ()\"") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

// Walk calls fn for n and every descendant in depth-first order.
func Walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		Walk(child, fn)
	}
}
