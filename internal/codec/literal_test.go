package codec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1.5", 1.5},
		{"1e3", 1000.0},
		{"99999999999999999999", 1e20},
		{`"42"`, "42"},
		{"abc", "abc"},
		{"", ""},
		{"true", true},
		{"null", nil},
		{"[1, \"a\"]", []any{int64(1), "a"}},
		{`{"id": 1, "tags": [2.5]}`, map[string]any{"id": int64(1), "tags": []any{2.5}}},
		{"1 2", "1 2"},
		{"{broken", "{broken"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseValue(tt.in)); diff != "" {
				t.Errorf("ParseValue(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseRecord(t *testing.T) {
	r, err := ParseRecord(`{"id":"1","n":2}`)
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if diff := cmp.Diff(Record{"id": "1", "n": int64(2)}, r); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	for _, in := range []string{"[1]", "x", "3"} {
		if _, err := ParseRecord(in); !errors.Is(err, ErrNotRecord) {
			t.Errorf("ParseRecord(%q) error = %v, want ErrNotRecord", in, err)
		}
	}
}
