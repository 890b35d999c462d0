// Package value implements the dynamic traversal type for template data:
// a closed sum type covering every shape template data can take, with
// right-associative dotted-path field access (map lookup before bean
// access at each segment).
package value

import (
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindDate
	KindBytes
	KindMap
	KindSeq
	KindBean
)

// Accessor lets a host expose a Go struct (or other bean-like type) to
// dotted-path field resolution without reflection: the core calls Field and
// trusts the accessor to know its own shape.
type Accessor interface {
	Field(name string) (Value, bool)
}

// Value is the closed sum type every marker/formula substitution resolves
// to. Exactly one of the typed fields is meaningful, selected by Kind; the
// zero Value is KindNull.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	t     time.Time
	bytes []byte
	m     map[string]Value
	seq   []Value
	bean  Accessor
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Int(i int64) Value            { return Value{kind: KindInt, i: i} }
func Float(f float64) Value        { return Value{kind: KindFloat, f: f} }
func Text(s string) Value          { return Value{kind: KindText, s: s} }
func Date(t time.Time) Value       { return Value{kind: KindDate, t: t} }
func Bytes(b []byte) Value         { return Value{kind: KindBytes, bytes: b} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func Seq(s []Value) Value          { return Value{kind: KindSeq, seq: s} }
func Bean(a Accessor) Value        { return Value{kind: KindBean, bean: a} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool, AsInt, AsFloat, AsText, etc. return the underlying payload and whether
// the Value actually held that kind.
func (v Value) AsBool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)            { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)        { return v.f, v.kind == KindFloat }
func (v Value) AsText() (string, bool)          { return v.s, v.kind == KindText }
func (v Value) AsDate() (time.Time, bool)       { return v.t, v.kind == KindDate }
func (v Value) AsBytes() ([]byte, bool)         { return v.bytes, v.kind == KindBytes }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }
func (v Value) AsSeq() ([]Value, bool)          { return v.seq, v.kind == KindSeq }
func (v Value) AsBean() (Accessor, bool)        { return v.bean, v.kind == KindBean }

// Len reports the cardinality of a Seq or Map value (used by SizeMarker
// evaluation); any other kind reports 0.
func (v Value) Len() int {
	switch v.kind {
	case KindSeq:
		return len(v.seq)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Get resolves a dotted field path right-associatively: at each segment,
// map lookup is tried before bean access. Returns ok=false as soon as any
// segment cannot be resolved.
func Get(root Value, path []string) (Value, bool) {
	cur := root
	for _, seg := range path {
		next, ok := step(cur, seg)
		if !ok {
			return Null(), false
		}
		cur = next
	}
	return cur, true
}

func step(v Value, field string) (Value, bool) {
	switch v.kind {
	case KindMap:
		val, ok := v.m[field]
		return val, ok
	case KindBean:
		if v.bean == nil {
			return Null(), false
		}
		return v.bean.Field(field)
	default:
		return Null(), false
	}
}

// String renders a Value the way a template cell would display it: dates
// use RFC3339 date-only, floats trim trailing zeros, bytes are never
// rendered textually.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	case KindDate:
		return v.t.Format("2006-01-02")
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.bytes))
	case KindMap:
		return fmt.Sprintf("<map[%d]>", len(v.m))
	case KindSeq:
		return fmt.Sprintf("<seq[%d]>", len(v.seq))
	case KindBean:
		return "<bean>"
	default:
		return ""
	}
}

// IsNumeric reports whether the value should be written as a numeric cell
// (Int or Float) rather than a string cell.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Float64 returns the value coerced to float64 for numeric cell writes.
// Only meaningful when IsNumeric reports true.
func (v Value) Float64() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
