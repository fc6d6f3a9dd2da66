// Value types that plain JSON cannot represent.

package codec

import (
	"math"
	"math/big"
	"net/url"
	"reflect"
	"time"
)

// Record is an open-ended mapping from field names to values.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Set is an unordered collection of comparable values.
//
// Elements are stored normalized: Set{int(1)} and Set{int64(1)} hold the
// same element, and dates are stored as their UTC instant so a date matches
// itself whatever its location. *big.Int and *url.URL elements match by
// value. Numbers of different types stay distinct, unlike with [Equal].
type Set map[any]struct{}

// NewSet returns a set holding elems.
//
// It panics if an element is not comparable, like a Go map would.
func NewSet(elems ...any) Set {
	s := make(Set, len(elems))
	for _, e := range elems {
		s.Add(e)
	}
	return s
}

// Add inserts v.
func (s Set) Add(v any) {
	if _, ok := s.find(v); ok {
		return
	}
	s[setKey(v)] = struct{}{}
}

// Has reports whether v is in the set.
func (s Set) Has(v any) bool {
	_, ok := s.find(v)
	return ok
}

// find returns the stored element equal to v.
func (s Set) find(v any) (any, bool) {
	k := setKey(v)
	if _, ok := s[k]; ok {
		return k, true
	}
	switch k := k.(type) {
	case *big.Int:
		for e := range s {
			if b, ok := e.(*big.Int); ok && b != nil && k != nil && b.Cmp(k) == 0 {
				return e, true
			}
		}
	case *url.URL:
		for e := range s {
			if u, ok := e.(*url.URL); ok && u != nil && k != nil && u.String() == k.String() {
				return e, true
			}
		}
	}
	return nil, false
}

// setKey returns the map key under which v is stored.
func setKey(v any) any {
	v = normalize(v)
	if t, ok := v.(time.Time); ok {
		return t.Round(0).UTC()
	}
	return v
}

// MapEntry is one key/value pair of a [Map].
type MapEntry struct {
	Key   any
	Value any
}

// Map is an ordered mapping whose keys can be of any type, unlike the string
// keys of a JSON object. Insertion order is preserved.
type Map []MapEntry

// Get returns the value for the first entry whose key equals k.
func (m Map) Get(k any) (any, bool) {
	for _, e := range m {
		if Equal(e.Key, k) {
			return e.Value, true
		}
	}
	return nil, false
}

// Type tags written to the side-channel.
const (
	tagDate     = "Date"
	tagInt      = "int"
	tagUint     = "uint"
	tagBigInt   = "bigint"
	tagBytes    = "bytes"
	tagDuration = "duration"
	tagURL      = "URL"
	tagNumber   = "number"
	tagSet      = "set"
	tagMap      = "map"
)

// normalize maps Go scalar kinds onto the canonical types returned by the
// decoder.
func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case float32:
		return float64(v)
	case Record:
		return map[string]any(v)
	}
	return v
}

// TypeName returns the column type name describing v.
func TypeName(v any) string {
	n := normalize(v)
	switch n.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "text"
	case float64:
		return "number"
	case int64:
		return "int"
	case uint64:
		return "uint"
	case time.Time:
		return "date"
	case time.Duration:
		return "duration"
	case []byte:
		return "bytes"
	case *big.Int:
		return "bigint"
	case *url.URL:
		return "url"
	case Set:
		return "set"
	case Map:
		return "map"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	switch reflect.ValueOf(n).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map:
		return "object"
	default:
		return "unknown"
	}
}

// Equal reports whether a and b hold the same value.
//
// Numbers compare by value across int64, uint64, float64 and *big.Int;
// everything else compares by its encoding, so nested sets and maps compare
// structurally.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if x, ok := toBigFloat(a); ok {
		if y, ok := toBigFloat(b); ok {
			return x.Cmp(y) == 0
		}
		return false
	}
	switch a.(type) {
	case nil, bool, string:
		return a == b
	}
	ea, err := Marshal(a)
	if err != nil {
		return false
	}
	eb, err := Marshal(b)
	if err != nil {
		return false
	}
	return string(ea) == string(eb)
}

func toBigFloat(v any) (*big.Float, bool) {
	switch v := v.(type) {
	case int64:
		return new(big.Float).SetInt64(v), true
	case uint64:
		return new(big.Float).SetUint64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		return big.NewFloat(v), true
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Float).SetInt(v), true
	}
	return nil, false
}
