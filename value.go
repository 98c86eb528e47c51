package gem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// =====================================
// Field Values
// =====================================

// Kind identifies which member of a Value is populated
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindBool
	KindFloat
	KindEntity
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindEntity:
		return "entity"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Value is the single storage representation of an entity field.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	b    bool
	ent  *Entity
	list *Collection
}

// NullValue returns the null Value
func NullValue() Value { return Value{} }

// StringValue wraps a string
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue wraps an integer
func IntValue(i int64) Value { return Value{kind: KindInt, num: i} }

// BoolValue wraps a boolean
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// FloatValue wraps a float
func FloatValue(f float64) Value { return Value{kind: KindFloat, flt: f} }

// EntityValue wraps a nested entity reference. A nil entity is null.
func EntityValue(e *Entity) Value {
	if e == nil {
		return Value{}
	}
	return Value{kind: KindEntity, ent: e}
}

// CollectionValue wraps a nested collection reference. A nil collection is null.
func CollectionValue(c *Collection) Value {
	if c == nil {
		return Value{}
	}
	return Value{kind: KindCollection, list: c}
}

// ValueOf converts a Go value into a Value.
// Unsupported shapes fail with ErrorTypeTypeMismatch.
func ValueOf(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case []byte:
		return StringValue(string(x)), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int8:
		return IntValue(int64(x)), nil
	case int16:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return IntValue(int64(x)), nil
	case uint16:
		return IntValue(int64(x)), nil
	case uint32:
		return IntValue(int64(x)), nil
	case uint64:
		return uintValue(x)
	case float32:
		return FloatValue(float64(x)), nil
	case float64:
		return FloatValue(x), nil
	case *Entity:
		return EntityValue(x), nil
	case *Collection:
		return CollectionValue(x), nil
	case time.Time:
		return StringValue(x.Format(time.RFC3339)), nil
	case fmt.Stringer:
		return StringValue(x.String()), nil
	default:
		return Value{}, errorf(ErrorTypeTypeMismatch, "unsupported field value of type %T", v)
	}
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, errorf(ErrorTypeTypeMismatch, "unsigned value %d overflows int64", u)
	}
	return IntValue(int64(u)), nil
}

// Kind returns the populated member
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is absent
func (v Value) IsNull() bool { return v.kind == KindNull }

// Entity returns the nested entity, or nil when the value holds something else
func (v Value) Entity() *Entity { return v.ent }

// Collection returns the nested collection, or nil when the value holds something else
func (v Value) Collection() *Collection { return v.list }

// AsString converts to a trimmed string
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str)
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		if v.b {
			return "1"
		}
		return ""
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'f', -1, 64)
	case KindEntity:
		if v.ent.HasID() {
			return strconv.FormatInt(v.ent.ID(), 10)
		}
		return ""
	case KindCollection:
		return v.list.IDs()
	default:
		return ""
	}
}

// AsInt converts to an integer; non-numeric strings yield 0
func (v Value) AsInt() int64 {
	switch v.kind {
	case KindString:
		return parseInt(v.str)
	case KindInt:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindFloat:
		return truncate(v.flt)
	case KindEntity:
		return v.ent.ID()
	default:
		return 0
	}
}

// AsFloat converts to a float; non-numeric strings yield 0.0
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return f
	case KindInt:
		return float64(v.num)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindFloat:
		return v.flt
	case KindEntity:
		return float64(v.ent.ID())
	default:
		return 0
	}
}

// AsBool follows the truthiness of the underlying value
func (v Value) AsBool() bool {
	switch v.kind {
	case KindString:
		return v.str != "" && v.str != "0"
	case KindInt:
		return v.num != 0
	case KindBool:
		return v.b
	case KindFloat:
		return v.flt != 0
	case KindEntity, KindCollection:
		return true
	default:
		return false
	}
}

// AsStringList splits on commas, trims every element and drops empty ones
func (v Value) AsStringList() []string {
	if v.kind == KindNull {
		return []string{}
	}
	parts := strings.Split(v.AsString(), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AsIntList splits like AsStringList and parses every element as an integer
func (v Value) AsIntList() []int64 {
	parts := v.AsStringList()
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseInt(p))
	}
	return out
}

// Interface returns the raw representation written back to a data source.
// Entities persist as their id, collections as their comma-joined ids.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindBool:
		return v.b
	case KindFloat:
		return v.flt
	case KindEntity:
		if v.ent.HasID() {
			return v.ent.ID()
		}
		return nil
	case KindCollection:
		return v.list.IDs()
	default:
		return nil
	}
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return truncate(f)
	}
	return 0
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}
