// Package security applies row-level and column-level policy to
// fetched row-sets before they reach the join engine.
package security

import (
	"fmt"
	"strings"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
)

// The rule grammar is a single restricted comparison:
//
//	expr := ref op rhs
//	ref  := field | field ".lower()" | "user." attr
//	op   := "==" | "!="
//	rhs  := "user." attr | quoted-literal | bareword
//
// Bare identifiers on the left resolve against the current row;
// "user."-prefixed names resolve against the security context. A
// bareword right-hand side is a string literal, with "true"/"false"
// (case-insensitive) coerced to booleans. Anything outside the grammar
// fails to parse, and evaluation of an unparsed rule denies.

// Op is the comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
)

// Ref is the left-hand side of a comparison: either a row field
// (optionally lower-cased) or a user attribute.
type Ref struct {
	UserAttr bool
	Name     string
	Lower    bool
}

// Rhs is the right-hand side: a user attribute or a literal.
type Rhs struct {
	UserAttr bool
	Name     string
	Literal  interface{}
}

// Compare is the parsed rule.
type Compare struct {
	Left  Ref
	Op    Op
	Right Rhs
}

// ParseExpr parses a rule expression. The operator must be surrounded
// by spaces, matching the configured rule syntax.
func ParseExpr(expr string) (*Compare, error) {
	expr = strings.TrimSpace(expr)

	var lhs, rhs string
	var op Op
	switch {
	case strings.Contains(expr, " == "):
		parts := strings.SplitN(expr, " == ", 2)
		lhs, rhs, op = parts[0], parts[1], OpEq
	case strings.Contains(expr, " != "):
		parts := strings.SplitN(expr, " != ", 2)
		lhs, rhs, op = parts[0], parts[1], OpNe
	default:
		return nil, fmt.Errorf("unsupported expression: %q", expr)
	}

	left, err := parseRef(strings.TrimSpace(lhs))
	if err != nil {
		return nil, err
	}
	right, err := parseRhs(strings.TrimSpace(rhs))
	if err != nil {
		return nil, err
	}
	return &Compare{Left: left, Op: op, Right: right}, nil
}

func parseRef(s string) (Ref, error) {
	if s == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	if attr, ok := strings.CutPrefix(s, "user."); ok {
		if attr == "" || strings.ContainsAny(attr, " \t'\"") {
			return Ref{}, fmt.Errorf("malformed user attribute: %q", s)
		}
		return Ref{UserAttr: true, Name: attr}, nil
	}
	if field, ok := strings.CutSuffix(s, ".lower()"); ok {
		if field == "" {
			return Ref{}, fmt.Errorf("empty field in %q", s)
		}
		return Ref{Name: field, Lower: true}, nil
	}
	if strings.ContainsAny(s, " \t'\"()") {
		return Ref{}, fmt.Errorf("malformed reference: %q", s)
	}
	return Ref{Name: s}, nil
}

func parseRhs(s string) (Rhs, error) {
	if s == "" {
		return Rhs{}, fmt.Errorf("empty right-hand side")
	}
	if attr, ok := strings.CutPrefix(s, "user."); ok {
		if attr == "" || strings.ContainsAny(attr, " \t'\"") {
			return Rhs{}, fmt.Errorf("malformed user attribute: %q", s)
		}
		return Rhs{UserAttr: true, Name: attr}, nil
	}

	lit := strings.Trim(s, `'"`)
	switch strings.ToLower(lit) {
	case "true":
		return Rhs{Literal: true}, nil
	case "false":
		return Rhs{Literal: false}, nil
	}
	return Rhs{Literal: lit}, nil
}

// Eval evaluates the comparison against a row and the user attributes.
// Evaluation is total: missing fields compare as nil and never panic.
func (c *Compare) Eval(row models.Row, user map[string]interface{}) bool {
	left := c.resolveLeft(row, user)
	var equal bool
	if c.Right.UserAttr {
		equal = valuesEqual(left, user[c.Right.Name])
	} else {
		equal = valuesEqual(left, c.Right.Literal)
	}
	if c.Op == OpNe {
		return !equal
	}
	return equal
}

func (c *Compare) resolveLeft(row models.Row, user map[string]interface{}) interface{} {
	if c.Left.UserAttr {
		return user[c.Left.Name]
	}
	v := row[c.Left.Name]
	if c.Left.Lower {
		return strings.ToLower(stringify(v))
	}
	return v
}

// valuesEqual compares a resolved reference with a resolved right-hand
// side. Booleans compare as booleans (accepting "true"/"false" strings
// on the reference side); everything else compares as strings. Nil
// equals only nil.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if bb, ok := b.(bool); ok {
		switch av := a.(type) {
		case bool:
			return av == bb
		case string:
			return strings.EqualFold(av, fmt.Sprintf("%t", bb))
		default:
			return false
		}
	}
	if ab, ok := a.(bool); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(bs, fmt.Sprintf("%t", ab))
		}
		return false
	}
	return stringify(a) == stringify(b)
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
