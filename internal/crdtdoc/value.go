package crdtdoc

// ValueKind tags the scalar variants a map register can hold. Nested
// structure is represented by KindMap pointing at a child Map, never by
// a raw encoded blob — any code path that receives an untyped object
// must convert it into a child Map before writing it (see
// MapHandle.SubMap).
type ValueKind byte

const (
	KindNull ValueKind = iota
	KindBool
	KindFloat64
	KindString
	KindMap
)

// Value is a tagged union of what a single map key can hold. Only one
// of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Float float64
	Str   string
	Map   *Map
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Float(f float64) Value       { return Value{Kind: KindFloat64, Float: f} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func mapValue(m *Map) Value       { return Value{Kind: KindMap, Map: m} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports whether two values hold the same scalar content. Map
// values are never equal to anything but themselves by identity — the
// materializer never needs to compare submaps for equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindFloat64:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindMap:
		return v.Map == o.Map
	default:
		return false
	}
}
