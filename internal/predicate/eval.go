package predicate

import (
	"errors"
	"fmt"
	"regexp"
)

// Status is the result class of one rule evaluation
type Status uint8

const (
	StatusPass Status = iota
	StatusViolation
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusViolation:
		return "VIOLATION"
	default:
		return "ERROR"
	}
}

// Outcome of evaluating a predicate against a context
type Outcome struct {
	Status Status
	Err    error
}

// ErrNotBoolean is returned when an expression yields a non-boolean result
var ErrNotBoolean = errors.New("expression did not produce a boolean")

// Eval runs the program. Evaluation errors never panic; they become StatusError.
func (p *Program) Eval(ctx *Context) Outcome {
	v, err := p.root.eval(ctx)
	if err != nil {
		return Outcome{Status: StatusError, Err: err}
	}
	b, ok := v.AsBool()
	if !ok {
		return Outcome{Status: StatusError, Err: fmt.Errorf("%w (got %s)", ErrNotBoolean, v.Kind())}
	}
	if b {
		return Outcome{Status: StatusPass}
	}
	return Outcome{Status: StatusViolation}
}

type literalNode struct{ v Value }

func (n *literalNode) eval(*Context) (Value, error) { return n.v, nil }

type identNode struct {
	name string
	raw  string
}

func (n *identNode) eval(ctx *Context) (Value, error) {
	v, ok := ctx.Lookup(n.name)
	if !ok {
		return Absent(), fmt.Errorf("unknown identifier %q", n.raw)
	}
	return v, nil
}

type logicalNode struct {
	or    bool
	terms []node
}

func (n *logicalNode) eval(ctx *Context) (Value, error) {
	for _, t := range n.terms {
		v, err := t.eval(ctx)
		if err != nil {
			return Absent(), err
		}
		b, ok := v.AsBool()
		if !ok {
			return Absent(), fmt.Errorf("logical operand must be boolean, got %s", v.Kind())
		}
		if b == n.or {
			return Bool(n.or), nil
		}
	}
	return Bool(!n.or), nil
}

type notNode struct{ x node }

func (n *notNode) eval(ctx *Context) (Value, error) {
	v, err := n.x.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	b, ok := v.AsBool()
	if !ok {
		return Absent(), fmt.Errorf("not operand must be boolean, got %s", v.Kind())
	}
	return Bool(!b), nil
}

type compareNode struct {
	op   string
	l, r node
}

func (n *compareNode) eval(ctx *Context) (Value, error) {
	l, err := n.l.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	r, err := n.r.eval(ctx)
	if err != nil {
		return Absent(), err
	}

	switch n.op {
	case "==", "!=":
		eq, err := Equal(l, r)
		if err != nil {
			return Absent(), err
		}
		return Bool(eq == (n.op == "==")), nil
	}

	// ordering against an absent operand is false
	if l.IsAbsent() || r.IsAbsent() {
		return Bool(false), nil
	}
	c, err := Compare(l, r)
	if err != nil {
		return Absent(), err
	}
	switch n.op {
	case "<":
		return Bool(c < 0), nil
	case "<=":
		return Bool(c <= 0), nil
	case ">":
		return Bool(c > 0), nil
	case ">=":
		return Bool(c >= 0), nil
	}
	return Absent(), fmt.Errorf("unsupported operator %q", n.op)
}

type inNode struct {
	negated bool
	x, set  node
}

func (n *inNode) eval(ctx *Context) (Value, error) {
	x, err := n.x.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	set, err := n.set.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	if set.Kind() != KindList {
		return Absent(), fmt.Errorf("right side of 'in' must be a list, got %s", set.Kind())
	}
	if x.Kind() == KindList {
		return Absent(), fmt.Errorf("left side of 'in' must be a scalar")
	}
	return Bool(set.Contains(x) != n.negated), nil
}

type nullNode struct {
	negated bool
	x       node
}

func (n *nullNode) eval(ctx *Context) (Value, error) {
	v, err := n.x.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	return Bool(v.IsAbsent() != n.negated), nil
}

type matchNode struct {
	x  node
	re *regexp.Regexp
}

func (n *matchNode) eval(ctx *Context) (Value, error) {
	v, err := n.x.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	if v.IsAbsent() {
		return Bool(false), nil
	}
	s, ok := v.AsString()
	if !ok {
		return Absent(), fmt.Errorf("'matches' needs a string, got %s", v.Kind())
	}
	return Bool(n.re.MatchString(s)), nil
}

type arithNode struct {
	op   string
	l, r node
}

func (n *arithNode) eval(ctx *Context) (Value, error) {
	l, err := n.l.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	r, err := n.r.eval(ctx)
	if err != nil {
		return Absent(), err
	}
	if l.IsAbsent() || r.IsAbsent() {
		return Absent(), nil
	}
	a, okA := l.AsNumber()
	b, okB := r.AsNumber()
	if !okA || !okB {
		return Absent(), fmt.Errorf("arithmetic needs numbers, got %s %s %s", l.Kind(), n.op, r.Kind())
	}

	switch n.op {
	case "+":
		return Number(a.Add(b)), nil
	case "-":
		return Number(a.Sub(b)), nil
	case "*":
		return Number(a.Mul(b)), nil
	case "/":
		if b.IsZero() {
			return Absent(), errors.New("division by zero")
		}
		return Number(a.Div(b)), nil
	}
	return Absent(), fmt.Errorf("unsupported operator %q", n.op)
}

type callNode struct {
	fn   Function
	args []node
}

func (n *callNode) eval(ctx *Context) (Value, error) {
	args := make([]Value, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(ctx)
		if err != nil {
			return Absent(), err
		}
		args[i] = v
	}
	v, err := n.fn.Call(ctx, args)
	if err != nil {
		return Absent(), fmt.Errorf("%s: %w", n.fn.Name, err)
	}
	return v, nil
}

type listNode struct{ items []node }

func (n *listNode) eval(ctx *Context) (Value, error) {
	members := make([]string, 0, len(n.items))
	for _, it := range n.items {
		v, err := it.eval(ctx)
		if err != nil {
			return Absent(), err
		}
		if v.IsAbsent() || v.Kind() == KindList {
			return Absent(), fmt.Errorf("list members must be present scalars")
		}
		members = append(members, v.key())
	}
	return List(members), nil
}
