package ctrlloop

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/golobby/cast"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMapping
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMapping:
		return "mapping"
	case KindHandle:
		return "handle"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is the payload type carried by emissions: the sender of a signal and
// every entry of its args. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	m    Args
	h    any
}

// Args is the keyed payload of an emission. A nil Args means no args were sent.
type Args map[string]Value

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Map wraps a mapping. A nil mapping is still a mapping value, just empty.
func Map(a Args) Value { return Value{kind: KindMapping, m: a} }

// Handle wraps an opaque host or module value, such as the sensor object
// that sent a signal. Handles are passed by reference and never inspected
// by the bus.
func Handle(h any) Value {
	if h == nil {
		return Null()
	}
	return Value{kind: KindHandle, h: h}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsMapping() (Args, bool) { return v.m, v.kind == KindMapping }

func (v Value) AsHandle() (any, bool) { return v.h, v.kind == KindHandle }

// Interface returns the plain Go form of the value: nil, bool, float64,
// string, map[string]any or the handle itself.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindMapping:
		return v.m.Interface()
	case KindHandle:
		return v.h
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "None"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	case KindMapping:
		return v.m.String()
	case KindHandle:
		return fmt.Sprint(v.h)
	default:
		return ""
	}
}

// MarshalJSON renders handles through fmt and non-finite numbers as
// strings, so event payloads never fail to encode.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.kind == KindHandle:
		return json.Marshal(fmt.Sprint(v.h))
	case v.kind == KindNumber && (math.IsNaN(v.n) || math.IsInf(v.n, 0)):
		return json.Marshal(strconv.FormatFloat(v.n, 'g', -1, 64))
	}
	return json.Marshal(v.Interface())
}

// Get returns the value stored under key. It is safe on a nil Args.
func (a Args) Get(key string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	v, ok := a[key]
	return v, ok
}

// Number returns the number stored under key, if the key exists and holds
// a number.
func (a Args) Number(key string) (float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Text returns the string stored under key, if the key exists and holds
// a string.
func (a Args) Text(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Interface converts the mapping into map[string]any.
func (a Args) Interface() map[string]any {
	if a == nil {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.Interface()
	}
	return out
}

func (a Args) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(a[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// ValueOf converts decoded JSON, YAML or TOML data into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Args:
		return Map(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return Number(n), nil
	case map[string]any:
		args, err := ArgsOf(t)
		if err != nil {
			return Value{}, err
		}
		return Map(args), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// ArgsOf converts a decoded map into Args. A nil map yields nil Args.
func ArgsOf(m map[string]any) (Args, error) {
	if m == nil {
		return nil, nil
	}
	args := make(Args, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		args[k] = v
	}
	return args, nil
}

var (
	numberType = reflect.TypeOf(float64(0))
	boolType   = reflect.TypeOf(false)
)

// ParseValue interprets a raw string, such as a query parameter, as a number,
// a bool, null or a plain string, in that order. NaN and infinities stay
// strings.
func ParseValue(raw string) Value {
	switch raw {
	case "", "null", "None":
		return Null()
	}
	if n, err := cast.FromType(raw, numberType); err == nil {
		if f, ok := n.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return Number(f)
		}
	}
	if b, err := cast.FromType(raw, boolType); err == nil {
		if v, ok := b.(bool); ok {
			return Bool(v)
		}
	}
	return String(raw)
}
