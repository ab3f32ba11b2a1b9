package predicate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Kind is the runtime type of a Value
type Kind uint8

const (
	KindAbsent Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is an immutable predicate operand. The zero Value is Absent.
type Value struct {
	kind Kind
	b    bool
	n    decimal.Decimal
	s    string
	t    time.Time
	set  mapset.Set[string]
}

// Absent is the explicit marker for a missing field
func Absent() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a decimal
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, n: d} }

// Int wraps an integer
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// DateValue wraps a calendar date; the zero date is Absent
func DateValue(d contracts.Date) Value {
	if d.IsZero() {
		return Absent()
	}
	return Value{kind: KindDate, t: d.Time}
}

// List builds a membership set from string members
func List(members []string) Value {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(members))
	for _, m := range members {
		set.Add(m)
	}
	return Value{kind: KindList, set: set}
}

// OptionalString maps "" to Absent
func OptionalString(s string) Value {
	if s == "" {
		return Absent()
	}
	return String(s)
}

// OptionalNumber maps an invalid NullDecimal to Absent
func OptionalNumber(d decimal.NullDecimal) Value {
	if !d.Valid {
		return Absent()
	}
	return Number(d.Decimal)
}

// Kind returns the runtime type
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the absent marker
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsBool returns the boolean and whether v is one
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the decimal and whether v is one
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether v is one
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsDate returns the date and whether v is one
func (v Value) AsDate() (contracts.Date, bool) { return contracts.Date{Time: v.t}, v.kind == KindDate }

// Contains tests list membership; false for non-lists
func (v Value) Contains(member Value) bool {
	if v.kind != KindList || member.IsAbsent() {
		return false
	}
	return v.set.Contains(member.key())
}

// Len returns the list cardinality or string length
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return v.set.Cardinality()
	case KindString:
		return len([]rune(v.s))
	default:
		return 0
	}
}

// key is the membership representation of a scalar
func (v Value) key() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.n.String()
	case KindString:
		return v.s
	case KindDate:
		return v.t.Format(contracts.DateLayout)
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "null"
	case KindString:
		return "'" + v.s + "'"
	case KindList:
		members := v.set.ToSlice()
		slices.Sort(members)
		return "[" + strings.Join(members, ", ") + "]"
	default:
		return v.key()
	}
}

// Equal compares two values. Absent equals only Absent.
func Equal(a, b Value) (bool, error) {
	if a.IsAbsent() || b.IsAbsent() {
		return a.IsAbsent() && b.IsAbsent(), nil
	}
	if a.kind != b.kind {
		return false, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindBool:
		return a.b == b.b, nil
	case KindNumber:
		return a.n.Equal(b.n), nil
	case KindString:
		return a.s == b.s, nil
	case KindDate:
		return a.t.Equal(b.t), nil
	default:
		return false, fmt.Errorf("cannot compare %s values", a.kind)
	}
}

// Compare orders two present values of the same kind
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, fmt.Errorf("cannot order %s and %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindNumber:
		return a.n.Cmp(b.n), nil
	case KindString:
		return strings.Compare(a.s, b.s), nil
	case KindDate:
		return a.t.Compare(b.t), nil
	default:
		return 0, fmt.Errorf("cannot order %s values", a.kind)
	}
}
