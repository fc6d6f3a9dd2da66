package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Envelope is the serialized form of one value.
type Envelope struct {
	JSON json.RawMessage   `json:"json" jsonschema:"description=Plain JSON shape of the value"`
	Meta map[string]string `json:"meta,omitempty" jsonschema:"description=Type tag for every path needing reconstruction"`
}

// Marshal encodes v as an envelope.
func Marshal(v any) ([]byte, error) {
	e := encoder{meta: map[string]string{}}
	plain, err := e.encode(v, "")
	if err != nil {
		return nil, err
	}
	data, err := marshalPlain(plain)
	if err != nil {
		return nil, err
	}
	env := Envelope{JSON: data}
	if len(e.meta) != 0 {
		env.Meta = e.meta
	}
	return marshalPlain(env)
}

// EncodeRecord encodes r as an envelope.
func EncodeRecord(r Record) ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	return Marshal(map[string]any(r))
}

// Encode encodes records as JSON Lines, one envelope per line.
func Encode(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range records {
		data, err := EncodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// marshalPlain is json.Marshal without HTML escaping and without the trailing
// newline added by json.Encoder.
func marshalPlain(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

type encoder struct {
	meta map[string]string
}

func (e *encoder) tag(path, t string) {
	e.meta[path] = t
}

// encode converts v to a tree of plain JSON values, recording type tags for
// everything that needs reconstruction.
func (e *encoder) encode(v any, path string) (any, error) {
	switch v := normalize(v).(type) {
	case nil:
		return nil, nil
	case bool, string:
		return v, nil
	case float64:
		switch {
		case math.IsNaN(v):
			e.tag(path, tagNumber)
			return "NaN", nil
		case math.IsInf(v, 1):
			e.tag(path, tagNumber)
			return "Infinity", nil
		case math.IsInf(v, -1):
			e.tag(path, tagNumber)
			return "-Infinity", nil
		}
		return v, nil
	case int64:
		e.tag(path, tagInt)
		return json.Number(strconv.FormatInt(v, 10)), nil
	case uint64:
		e.tag(path, tagUint)
		return json.Number(strconv.FormatUint(v, 10)), nil
	case time.Time:
		e.tag(path, tagDate)
		return v.Format(time.RFC3339Nano), nil
	case time.Duration:
		e.tag(path, tagDuration)
		return v.String(), nil
	case []byte:
		e.tag(path, tagBytes)
		return base64.StdEncoding.EncodeToString(v), nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		e.tag(path, tagBigInt)
		return v.String(), nil
	case *url.URL:
		if v == nil {
			return nil, nil
		}
		e.tag(path, tagURL)
		return v.String(), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			p, err := e.encode(val, child(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			p, err := e.encode(val, index(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case Set:
		return e.encodeSet(v, path)
	case Map:
		e.tag(path, tagMap)
		out := make([]any, len(v))
		for i, entry := range v {
			k, err := e.encode(entry.Key, index(index(path, i), 0))
			if err != nil {
				return nil, err
			}
			val, err := e.encode(entry.Value, index(index(path, i), 1))
			if err != nil {
				return nil, err
			}
			out[i] = []any{k, val}
		}
		return out, nil
	}
	return e.encodeReflect(v, path)
}

// encodeSet encodes set elements in the order of their serialized form so
// the output does not depend on map iteration order.
func (e *encoder) encodeSet(s Set, path string) (any, error) {
	type item struct {
		key   string
		plain any
		meta  map[string]string
	}
	items := make([]item, 0, len(s))
	for elem := range s {
		sub := encoder{meta: map[string]string{}}
		plain, err := sub.encode(elem, "")
		if err != nil {
			return nil, err
		}
		data, err := marshalPlain(plain)
		if err != nil {
			return nil, err
		}
		// The root tag disambiguates values with the same plain form, like
		// int64(1) and float64(1).
		items = append(items, item{key: string(data) + "\x00" + sub.meta[""], plain: plain, meta: sub.meta})
	}
	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	e.tag(path, tagSet)
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.plain
		for rel, t := range it.meta {
			e.tag(join(index(path, i), rel), t)
		}
	}
	return out, nil
}

// encodeReflect handles slices and string-keyed maps of concrete types, like
// []string or map[string]int.
func (e *encoder) encodeReflect(v any, path string) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			p, err := e.encode(rv.Index(i).Interface(), index(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			p, err := e.encode(iter.Value().Interface(), child(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}
	return nil, &UnsupportedTypeError{Type: reflect.TypeOf(v), Path: path}
}
