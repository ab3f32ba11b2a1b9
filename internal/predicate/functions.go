package predicate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Function is a whitelisted callable available to expressions.
// MaxArgs < 0 means variadic.
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int
	Call    func(ctx *Context, args []Value) (Value, error)
}

// Registry holds the functions an expression may call
type Registry struct {
	funcs map[string]Function
}

// NewRegistry returns a registry preloaded with the builtin functions
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Function)}
	for _, fn := range builtins() {
		r.Register(fn)
	}
	return r
}

// Register adds or replaces a function. Names are matched like identifiers.
func (r *Registry) Register(fn Function) {
	r.funcs[Normalize(fn.Name)] = fn
}

// Names returns the registered function names
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.funcs))
	for _, fn := range r.funcs {
		out = append(out, fn.Name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (Function, bool) {
	fn, ok := r.funcs[Normalize(name)]
	return fn, ok
}

func builtins() []Function {
	return []Function{
		{Name: "isBlank", MinArgs: 1, MaxArgs: 1, Call: func(_ *Context, a []Value) (Value, error) {
			return Bool(isBlank(a[0])), nil
		}},
		{Name: "notBlank", MinArgs: 1, MaxArgs: 1, Call: func(_ *Context, a []Value) (Value, error) {
			return Bool(!isBlank(a[0])), nil
		}},
		{Name: "upper", MinArgs: 1, MaxArgs: 1, Call: stringFunc(strings.ToUpper)},
		{Name: "lower", MinArgs: 1, MaxArgs: 1, Call: stringFunc(strings.ToLower)},
		{Name: "trim", MinArgs: 1, MaxArgs: 1, Call: stringFunc(strings.TrimSpace)},
		{Name: "length", MinArgs: 1, MaxArgs: 1, Call: func(_ *Context, a []Value) (Value, error) {
			switch a[0].Kind() {
			case KindAbsent:
				return Absent(), nil
			case KindString, KindList:
				return Int(int64(a[0].Len())), nil
			}
			return Absent(), fmt.Errorf("expected string or list, got %s", a[0].Kind())
		}},
		{Name: "coalesce", MinArgs: 1, MaxArgs: -1, Call: func(_ *Context, a []Value) (Value, error) {
			for _, v := range a {
				if !v.IsAbsent() {
					return v, nil
				}
			}
			return Absent(), nil
		}},
		{Name: "abs", MinArgs: 1, MaxArgs: 1, Call: func(_ *Context, a []Value) (Value, error) {
			if a[0].IsAbsent() {
				return Absent(), nil
			}
			d, ok := a[0].AsNumber()
			if !ok {
				return Absent(), fmt.Errorf("expected number, got %s", a[0].Kind())
			}
			return Number(d.Abs()), nil
		}},
		{Name: "today", MinArgs: 0, MaxArgs: 0, Call: func(ctx *Context, _ []Value) (Value, error) {
			return DateValue(ctx.Today()), nil
		}},
		{Name: "date", MinArgs: 1, MaxArgs: 1, Call: func(_ *Context, a []Value) (Value, error) {
			switch a[0].Kind() {
			case KindAbsent, KindDate:
				return a[0], nil
			case KindString:
				s, _ := a[0].AsString()
				if strings.TrimSpace(s) == "" {
					return Absent(), nil
				}
				d, err := contracts.ParseDate(s)
				if err != nil {
					return Absent(), err
				}
				return DateValue(d), nil
			}
			return Absent(), fmt.Errorf("expected string, got %s", a[0].Kind())
		}},
		{Name: "daysBetween", MinArgs: 2, MaxArgs: 2, Call: func(_ *Context, a []Value) (Value, error) {
			if a[0].IsAbsent() || a[1].IsAbsent() {
				return Absent(), nil
			}
			from, ok1 := a[0].AsDate()
			to, ok2 := a[1].AsDate()
			if !ok1 || !ok2 {
				return Absent(), fmt.Errorf("expected dates, got %s and %s", a[0].Kind(), a[1].Kind())
			}
			days := to.Sub(from.Time) / (24 * time.Hour)
			return Int(int64(days)), nil
		}},
		{Name: "isFuture", MinArgs: 1, MaxArgs: 1, Call: func(ctx *Context, a []Value) (Value, error) {
			if a[0].IsAbsent() {
				return Bool(false), nil
			}
			d, ok := a[0].AsDate()
			if !ok {
				return Absent(), fmt.Errorf("expected date, got %s", a[0].Kind())
			}
			return Bool(d.After(ctx.Today().Time)), nil
		}},
	}
}

func isBlank(v Value) bool {
	if v.IsAbsent() {
		return true
	}
	s, ok := v.AsString()
	return ok && strings.TrimSpace(s) == ""
}

func stringFunc(f func(string) string) func(*Context, []Value) (Value, error) {
	return func(_ *Context, a []Value) (Value, error) {
		if a[0].IsAbsent() {
			return Absent(), nil
		}
		s, ok := a[0].AsString()
		if !ok {
			return Absent(), fmt.Errorf("expected string, got %s", a[0].Kind())
		}
		return String(f(s)), nil
	}
}
