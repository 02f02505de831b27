package checkquery

import (
	"fmt"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// Anchor is the single checker or scheme operator a query is bound to.
type Anchor struct {
	Kind    Kind // KindChecker or KindScheme
	Checker model.CheckerUUID
	Scheme  string
}

// Validate enforces the anchoring rules: the tree contains exactly one
// checker or scheme operator, and it is either the root or a direct child of
// a root AND.
func Validate(n *Node) (Anchor, error) {
	var anchors int
	Walk(n, func(x *Node) {
		if x.IsAnchor() {
			anchors++
		}
	})
	if anchors != 1 {
		return Anchor{}, fmt.Errorf("%w: query must contain exactly 1 '%s' operator or '%s' operator",
			ErrInvalidQuery, FieldChecker, FieldScheme)
	}

	if n.IsAnchor() {
		return anchorOf(n), nil
	}
	if n.Kind == KindAnd {
		for _, child := range n.Children {
			if child.IsAnchor() {
				return anchorOf(child), nil
			}
		}
	}
	return Anchor{}, fmt.Errorf("%w: query that contains a '%s' operator or '%s' operator must be an AND query",
		ErrInvalidQuery, FieldChecker, FieldScheme)
}

func anchorOf(n *Node) Anchor {
	return Anchor{Kind: n.Kind, Checker: n.Checker, Scheme: n.Scheme}
}

// HasState reports whether any state operator occurs in the tree.
func HasState(n *Node) bool {
	found := false
	Walk(n, func(x *Node) {
		if x.Kind == KindState {
			found = true
		}
	})
	return found
}

// WithDefaultState restricts a query without any state operator to pending
// checks. An AND root is extended in place of being nested so the anchor stays
// a direct child.
func WithDefaultState(n *Node) *Node {
	if HasState(n) {
		return n
	}
	pending := StateIs(model.CheckStateNotStarted)
	if n.Kind == KindAnd {
		children := append([]*Node{}, n.Children...)
		return And(append(children, pending)...)
	}
	return And(n, pending)
}

// Compile parses, validates and applies the default state in one step.
func Compile(q string) (*Node, Anchor, error) {
	n, err := Parse(q)
	if err != nil {
		return nil, Anchor{}, err
	}
	anchor, err := Validate(n)
	if err != nil {
		return nil, Anchor{}, err
	}
	return WithDefaultState(n), anchor, nil
}
