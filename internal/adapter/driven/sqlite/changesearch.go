package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// ErrInvalidChangeQuery is returned for unparsable change searches.
var ErrInvalidChangeQuery = errors.New("invalid change query")

// changeTerm is one operator of a change search. Terms are implicitly ANDed.
type changeTerm struct {
	field  string
	value  string
	negate bool
}

// parseChangeQuery parses the change search language:
//
//	status:open|merged|abandoned  is:open|closed  branch:<name>
//	owner:<name>  project:<repository>  -<term>
//
// An empty query matches every change.
func parseChangeQuery(q string) ([]changeTerm, error) {
	var terms []changeTerm
	for _, word := range strings.Fields(q) {
		t := changeTerm{}
		if strings.HasPrefix(word, "-") {
			t.negate = true
			word = word[1:]
		}
		field, value, ok := strings.Cut(word, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChangeQuery, word)
		}
		t.field, t.value = strings.ToLower(field), value

		switch t.field {
		case "status":
			t.value = strings.ToLower(t.value)
			switch model.ChangeStatus(t.value) {
			case model.ChangeStatusOpen, model.ChangeStatusMerged, model.ChangeStatusAbandoned:
			default:
				return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidChangeQuery, value)
			}
		case "is":
			t.value = strings.ToLower(t.value)
			if t.value != "open" && t.value != "closed" {
				return nil, fmt.Errorf("%w: unsupported is:%s", ErrInvalidChangeQuery, value)
			}
		case "branch", "owner", "project":
		default:
			return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidChangeQuery, field)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// match evaluates t against a change in memory.
func (t changeTerm) match(c model.Change) bool {
	var ok bool
	switch t.field {
	case "status":
		ok = string(c.Status) == t.value
	case "is":
		ok = c.Status.IsOpen() == (t.value == "open")
	case "branch":
		ok = c.Branch == t.value
	case "owner":
		ok = c.Owner == t.value
	case "project":
		ok = c.Repository == t.value
	}
	return ok != t.negate
}

// sql renders t as a WHERE clause fragment over the changes table aliased c.
func (t changeTerm) sql() (string, []any) {
	var clause string
	var args []any
	switch t.field {
	case "status":
		clause, args = "c.status = ?", []any{t.value}
	case "is":
		clause, args = "c.status = ?", []any{string(model.ChangeStatusOpen)}
		if t.value == "closed" {
			clause = "c.status <> ?"
		}
	case "branch":
		clause, args = "c.branch = ?", []any{t.value}
	case "owner":
		clause, args = "c.owner = ?", []any{t.value}
	case "project":
		clause, args = "c.repository = ?", []any{t.value}
	}
	if t.negate {
		clause = "NOT (" + clause + ")"
	}
	return clause, args
}

func matchAll(terms []changeTerm, c model.Change) bool {
	for _, t := range terms {
		if !t.match(c) {
			return false
		}
	}
	return true
}
