package codec

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// maxLineSize bounds a single record line in a sequence.
const maxLineSize = 64 << 20

var (
	errMissingJSON = errors.New("envelope has no \"json\" member")
	errNoValue     = errors.New("no value at annotated path")
)

// Unmarshal decodes an envelope produced by [Marshal].
func Unmarshal(data []byte) (any, error) {
	v, err := unmarshal(data)
	if err != nil {
		return nil, asDecodeError(err, 0)
	}
	return v, nil
}

// DecodeRecord decodes an envelope whose value must be an object.
func DecodeRecord(data []byte) (Record, error) {
	r, err := decodeRecord(data)
	if err != nil {
		return nil, asDecodeError(err, 0)
	}
	return r, nil
}

// Decode decodes JSON Lines produced by [Encode]. Blank lines are skipped.
func Decode(data []byte) ([]Record, error) {
	records := []Record{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		r, err := decodeRecord(b)
		if err != nil {
			return nil, asDecodeError(err, line)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, &DecodeError{Line: line + 1, Err: err}
	}
	return records, nil
}

func decodeRecord(data []byte) (Record, error) {
	v, err := unmarshal(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotRecord
	}
	return Record(m), nil
}

func asDecodeError(err error, line int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Line == 0 {
			de.Line = line
		}
		return de
	}
	return &DecodeError{Line: line, Err: err}
}

func unmarshal(data []byte) (any, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, err
	}
	if len(env.JSON) == 0 {
		return nil, errMissingJSON
	}
	var raw any
	if err := strictUnmarshal(env.JSON, &raw); err != nil {
		return nil, err
	}
	d := decoder{meta: env.Meta, visited: map[string]bool{}}
	v, err := d.decode(raw, "")
	if err != nil {
		return nil, err
	}
	if len(d.visited) != len(d.meta) {
		return nil, d.unvisited()
	}
	return v, nil
}

// strictUnmarshal decodes exactly one JSON value, keeping numbers as
// json.Number and rejecting unknown envelope members.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

type decoder struct {
	meta    map[string]string
	visited map[string]bool
}

func (d *decoder) unvisited() error {
	paths := make([]string, 0, len(d.meta))
	for p := range d.meta {
		if !d.visited[p] {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	return &DecodeError{Path: paths[0], Err: errNoValue}
}

func (d *decoder) decode(raw any, path string) (any, error) {
	t, ok := d.meta[path]
	if !ok {
		return d.decodePlain(raw, path)
	}
	d.visited[path] = true
	v, err := d.decodeTagged(raw, path, t)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DecodeError{Path: path, Err: err}
	}
	return v, nil
}

func (d *decoder) decodePlain(raw any, path string) (any, error) {
	switch raw := raw.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(raw))
		for k, v := range raw {
			dv, err := d.decode(v, child(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(raw))
		for i, v := range raw {
			dv, err := d.decode(v, index(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}
	return raw, nil
}

func (d *decoder) decodeTagged(raw any, path, t string) (any, error) {
	switch t {
	case tagInt:
		n, err := asNumber(raw, t)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(string(n), 10, 64)
	case tagUint:
		n, err := asNumber(raw, t)
		if err != nil {
			return nil, err
		}
		return strconv.ParseUint(string(n), 10, 64)
	case tagSet:
		return d.decodeSet(raw, path)
	case tagMap:
		return d.decodeMap(raw, path)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%s value must be a string, got %T", t, raw)
	}
	switch t {
	case tagDate:
		return time.Parse(time.RFC3339Nano, s)
	case tagDuration:
		return time.ParseDuration(s)
	case tagBytes:
		return base64.StdEncoding.DecodeString(s)
	case tagBigInt:
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid bigint %q", s)
		}
		return b, nil
	case tagURL:
		return url.Parse(s)
	case tagNumber:
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return nil, fmt.Errorf("unknown type tag %q", t)
}

func asNumber(raw any, t string) (json.Number, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return "", fmt.Errorf("%s value must be a number, got %T", t, raw)
	}
	return n, nil
}

func (d *decoder) decodeSet(raw any, path string) (any, error) {
	elems, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("set value must be an array, got %T", raw)
	}
	s := make(Set, len(elems))
	for i, e := range elems {
		v, err := d.decode(e, index(path, i))
		if err != nil {
			return nil, err
		}
		if v != nil && !reflect.ValueOf(v).Comparable() {
			return nil, &DecodeError{Path: index(path, i), Err: fmt.Errorf("set element of type %T is not comparable", v)}
		}
		s.Add(v)
	}
	return s, nil
}

func (d *decoder) decodeMap(raw any, path string) (any, error) {
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("map value must be an array, got %T", raw)
	}
	m := make(Map, 0, len(entries))
	for i, e := range entries {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			return nil, &DecodeError{Path: index(path, i), Err: errors.New("map entry must be a [key, value] pair")}
		}
		k, err := d.decode(pair[0], index(index(path, i), 0))
		if err != nil {
			return nil, err
		}
		v, err := d.decode(pair[1], index(index(path, i), 1))
		if err != nil {
			return nil, err
		}
		m = append(m, MapEntry{Key: k, Value: v})
	}
	return m, nil
}
