package predicate

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"
)

// node is one compiled expression element
type node interface {
	eval(ctx *Context) (Value, error)
}

// Program is a compiled predicate. Programs are immutable and safe for concurrent use.
type Program struct {
	source string
	root   node
	refs   map[string]struct{}
}

// Source returns the original expression text
func (p *Program) Source() string { return p.source }

// References reports whether the expression reads the given identifier
func (p *Program) References(name string) bool {
	_, ok := p.refs[Normalize(name)]
	return ok
}

// Identifiers returns the normalized identifiers read by the expression, sorted
func (p *Program) Identifiers() []string {
	out := make([]string, 0, len(p.refs))
	for name := range p.refs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compiler turns expression text into Programs using a whitelisted function registry
type Compiler struct {
	registry *Registry
}

// NewCompiler creates a compiler; a nil registry means builtins only
func NewCompiler(registry *Registry) *Compiler {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Compiler{registry: registry}
}

// Compile parses and checks an expression
func (c *Compiler) Compile(src string) (*Program, error) {
	ast, err := parse(src)
	if err != nil {
		return nil, err
	}

	st := &compileState{registry: c.registry, refs: make(map[string]struct{})}
	root, err := st.expr(ast)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}

	return &Program{source: src, root: root, refs: st.refs}, nil
}

type compileState struct {
	registry *Registry
	refs     map[string]struct{}
}

func (s *compileState) expr(e *exprAST) (node, error) {
	return s.or(e.Or)
}

func (s *compileState) or(e *orAST) (node, error) {
	left, err := s.and(e.Left)
	if err != nil {
		return nil, err
	}
	if len(e.Right) == 0 {
		return left, nil
	}
	terms := []node{left}
	for _, r := range e.Right {
		n, err := s.and(r)
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	return &logicalNode{or: true, terms: terms}, nil
}

func (s *compileState) and(e *andAST) (node, error) {
	left, err := s.not(e.Left)
	if err != nil {
		return nil, err
	}
	if len(e.Right) == 0 {
		return left, nil
	}
	terms := []node{left}
	for _, r := range e.Right {
		n, err := s.not(r)
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	return &logicalNode{terms: terms}, nil
}

func (s *compileState) not(e *notAST) (node, error) {
	if e.Negated != nil {
		inner, err := s.not(e.Negated)
		if err != nil {
			return nil, err
		}
		return &notNode{x: inner}, nil
	}
	return s.compare(e.Compare)
}

func (s *compileState) compare(e *compareAST) (node, error) {
	left, err := s.add(e.Left)
	if err != nil {
		return nil, err
	}
	if e.Tail == nil {
		return left, nil
	}

	t := e.Tail
	switch {
	case t.Cmp != nil:
		right, err := s.add(t.Cmp.Right)
		if err != nil {
			return nil, err
		}
		return &compareNode{op: t.Cmp.Op, l: left, r: right}, nil
	case t.In != nil:
		set, err := s.add(t.In.Set)
		if err != nil {
			return nil, err
		}
		return &inNode{negated: t.In.Negated, x: left, set: set}, nil
	case t.Null != nil:
		return &nullNode{negated: t.Null.Negated, x: left}, nil
	case t.Matches != nil:
		pattern := unquote(*t.Matches)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return &matchNode{x: left, re: re}, nil
	}
	return left, nil
}

func (s *compileState) add(e *addAST) (node, error) {
	n, err := s.mul(e.Left)
	if err != nil {
		return nil, err
	}
	for _, t := range e.Right {
		r, err := s.mul(t.Right)
		if err != nil {
			return nil, err
		}
		n = &arithNode{op: t.Op, l: n, r: r}
	}
	return n, nil
}

func (s *compileState) mul(e *mulAST) (node, error) {
	n, err := s.unary(e.Left)
	if err != nil {
		return nil, err
	}
	for _, t := range e.Right {
		r, err := s.unary(t.Right)
		if err != nil {
			return nil, err
		}
		n = &arithNode{op: t.Op, l: n, r: r}
	}
	return n, nil
}

func (s *compileState) unary(e *unaryAST) (node, error) {
	n, err := s.primary(e.Primary)
	if err != nil {
		return nil, err
	}
	if !e.Negative {
		return n, nil
	}
	if lit, ok := n.(*literalNode); ok {
		if d, isNum := lit.v.AsNumber(); isNum {
			return &literalNode{v: Number(d.Neg())}, nil
		}
	}
	return &arithNode{op: "-", l: &literalNode{v: Int(0)}, r: n}, nil
}

func (s *compileState) primary(e *primaryAST) (node, error) {
	switch {
	case e.Number != nil:
		d, err := decimal.NewFromString(*e.Number)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", *e.Number, err)
		}
		return &literalNode{v: Number(d)}, nil
	case e.Str != nil:
		return &literalNode{v: String(unquote(*e.Str))}, nil
	case e.True:
		return &literalNode{v: Bool(true)}, nil
	case e.False:
		return &literalNode{v: Bool(false)}, nil
	case e.Null:
		return &literalNode{v: Absent()}, nil
	case e.Call != nil:
		return s.call(e.Call)
	case e.List != nil:
		return s.list(e.List)
	case e.Ident != nil:
		name := Normalize(*e.Ident)
		s.refs[name] = struct{}{}
		return &identNode{name: name, raw: *e.Ident}, nil
	case e.Sub != nil:
		return s.expr(e.Sub)
	}
	return nil, fmt.Errorf("empty operand")
}

func (s *compileState) call(e *callAST) (node, error) {
	fn, ok := s.registry.lookup(e.Name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", e.Name)
	}
	if len(e.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(e.Args) > fn.MaxArgs) {
		return nil, fmt.Errorf("function %s: wrong number of arguments (%d)", fn.Name, len(e.Args))
	}
	args := make([]node, 0, len(e.Args))
	for _, a := range e.Args {
		n, err := s.expr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	return &callNode{fn: fn, args: args}, nil
}

func (s *compileState) list(e *listAST) (node, error) {
	items := make([]node, 0, len(e.Items))
	constant := true
	for _, it := range e.Items {
		n, err := s.expr(it)
		if err != nil {
			return nil, err
		}
		if _, ok := n.(*literalNode); !ok {
			constant = false
		}
		items = append(items, n)
	}

	ln := &listNode{items: items}
	if !constant {
		return ln, nil
	}
	v, err := ln.eval(nil)
	if err != nil {
		return nil, err
	}
	return &literalNode{v: v}, nil
}
