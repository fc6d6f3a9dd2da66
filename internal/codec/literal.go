package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
)

// ParseValue interprets s as a plain JSON value, falling back to s itself
// when it is not valid JSON. Integral numbers become int64, other numbers
// float64.
//
// It is meant for keys and values typed by humans: "42" is a number,
// "\"42\"" the string 42 and "abc" the string abc.
func ParseValue(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return s
	}
	return literal(v)
}

// ParseRecord parses a plain JSON object the way ParseValue does.
func ParseRecord(s string) (Record, error) {
	v := ParseValue(s)
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotRecord
	}
	return Record(m), nil
}

func literal(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = literal(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = literal(e)
		}
		return v
	}
	return v
}
