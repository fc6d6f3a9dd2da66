package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/recdb/internal/codec"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/server/ratelimit"
	"github.com/maruel/recdb/internal/users"
)

type apiResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Details map[string]any    `json:"details"`
	Record  json.RawMessage   `json:"record"`
	Records []json.RawMessage `json:"records"`
	Tables  []struct {
		Name       string `json:"name"`
		PrimaryKey string `json:"primary_key"`
	} `json:"tables"`
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	notes *jsonldb.Table
	user  string
	pass  string
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	reg := jsonldb.NewRegistry()
	notes, err := reg.Open(filepath.Join(t.TempDir(), "notes.jsonl"), "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Tables: map[string]*jsonldb.Table{"notes": notes}, Version: "test"}
	if mutate != nil {
		mutate(cfg)
	}
	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, notes: notes}
}

func (s *testServer) do(method, path, body string) (int, *apiResponse, http.Header) {
	s.t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(s.t.Context(), method, s.srv.URL+path, r)
	if err != nil {
		s.t.Fatal(err)
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.t.Fatalf("%s %s: invalid JSON response: %v", method, path, err)
	}
	return resp.StatusCode, &out, resp.Header
}

func envelope(t *testing.T, r codec.Record) string {
	t.Helper()
	b, err := codec.EncodeRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func decodeRecord(t *testing.T, raw json.RawMessage) codec.Record {
	t.Helper()
	r, err := codec.DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord(%s) failed: %v", raw, err)
	}
	return r
}

func TestRouter(t *testing.T) {
	s := newTestServer(t, nil)
	when := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("health", func(t *testing.T) {
		code, resp, _ := s.do("GET", "/api/health", "")
		if code != http.StatusOK || resp.Status != "ok" {
			t.Errorf("health = %d %+v", code, resp)
		}
	})

	t.Run("create", func(t *testing.T) {
		body := envelope(t, codec.Record{"id": "a", "at": when, "tags": codec.NewSet("x"), "n": int64(1)})
		code, resp, _ := s.do("POST", "/api/tables/notes/records", body)
		if code != http.StatusOK {
			t.Fatalf("POST = %d %+v", code, resp.Error)
		}
		got, found, err := s.notes.FindByID("a")
		if err != nil || !found {
			t.Fatalf("FindByID = %v, %v", found, err)
		}
		if at, ok := got["at"].(time.Time); !ok || !at.Equal(when) {
			t.Errorf("at = %#v, want %v", got["at"], when)
		}
		if err := s.notes.Insert(codec.Record{"id": int64(7), "n": int64(2)}); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("get", func(t *testing.T) {
		code, resp, _ := s.do("GET", "/api/tables/notes/records/a", "")
		if code != http.StatusOK {
			t.Fatalf("GET = %d %+v", code, resp.Error)
		}
		want := codec.Record{"id": "a", "at": when, "tags": codec.NewSet("x"), "n": int64(1)}
		if diff := cmp.Diff(want, decodeRecord(t, resp.Record)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		code, resp, _ = s.do("GET", "/api/tables/notes/records/7", "")
		if code != http.StatusOK {
			t.Fatalf("GET numeric key = %d %+v", code, resp.Error)
		}
		if r := decodeRecord(t, resp.Record); r["n"] != int64(2) {
			t.Errorf("record = %v", r)
		}
	})

	t.Run("list", func(t *testing.T) {
		code, resp, _ := s.do("GET", "/api/tables/notes/records", "")
		if code != http.StatusOK || len(resp.Records) != 2 {
			t.Fatalf("list = %d, %d records", code, len(resp.Records))
		}
		code, resp, _ = s.do("GET", "/api/tables/notes/records?field=n&value=2", "")
		if code != http.StatusOK || len(resp.Records) != 1 {
			t.Fatalf("filtered list = %d, %d records", code, len(resp.Records))
		}
		if r := decodeRecord(t, resp.Records[0]); !codec.Equal(r["id"], 7) {
			t.Errorf("record = %v", r)
		}
		code, resp, _ = s.do("GET", "/api/tables", "")
		if code != http.StatusOK || len(resp.Tables) != 1 || resp.Tables[0].Name != "notes" || resp.Tables[0].PrimaryKey != "id" {
			t.Errorf("tables = %d %+v", code, resp.Tables)
		}
	})

	t.Run("update", func(t *testing.T) {
		code, resp, _ := s.do("PATCH", "/api/tables/notes/records/a", `{"json":{"n":5,"id":"ignored"}}`)
		if code != http.StatusOK {
			t.Fatalf("PATCH = %d %+v", code, resp.Error)
		}
		r := decodeRecord(t, resp.Record)
		if at, ok := r["at"].(time.Time); !ok || !at.Equal(when) || r["id"] != "a" || r["n"] != 5.0 {
			t.Errorf("record = %v", r)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			method string
			path   string
			body   string
			status int
			code   string
		}{
			{"unknown table", "GET", "/api/tables/nope/records", "", 404, "TABLE_NOT_FOUND"},
			{"unknown record", "GET", "/api/tables/notes/records/zzz", "", 404, "RECORD_NOT_FOUND"},
			{"update unknown record", "PATCH", "/api/tables/notes/records/zzz", `{"json":{"n":1}}`, 404, "RECORD_NOT_FOUND"},
			{"duplicate", "POST", "/api/tables/notes/records", `{"json":{"id":"a"}}`, 409, "DUPLICATE_KEY"},
			{"missing key", "POST", "/api/tables/notes/records", `{"json":{"n":1}}`, 400, "MISSING_PRIMARY_KEY"},
			{"empty body", "POST", "/api/tables/notes/records", "", 400, "MISSING_PRIMARY_KEY"},
			{"bad envelope", "POST", "/api/tables/notes/records", `{"json":{"id":"b"},"meta":{"id":"Date"}}`, 400, "VALIDATION_FAILED"},
			{"not an envelope", "POST", "/api/tables/notes/records", `{"id":"b"}`, 400, "VALIDATION_FAILED"},
			{"unknown endpoint", "GET", "/api/nope", "", 404, "NOT_FOUND"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				code, resp, _ := s.do(tt.method, tt.path, tt.body)
				if code != tt.status || resp.Error.Code != tt.code {
					t.Errorf("%s %s = %d %s, want %d %s", tt.method, tt.path, code, resp.Error.Code, tt.status, tt.code)
				}
			})
		}
	})

	t.Run("delete", func(t *testing.T) {
		code, resp, _ := s.do("DELETE", "/api/tables/notes/records/a", "")
		if code != http.StatusOK || !resp.OK {
			t.Fatalf("DELETE = %d %+v", code, resp.Error)
		}
		if n, _ := s.notes.Len(); n != 1 {
			t.Errorf("Len() = %d, want 1", n)
		}
		code, resp, _ = s.do("DELETE", "/api/tables/notes/records", "")
		if code != http.StatusOK || !resp.OK {
			t.Fatalf("truncate = %d %+v", code, resp.Error)
		}
		if n, _ := s.notes.Len(); n != 0 {
			t.Errorf("Len() = %d, want 0", n)
		}
	})
}

func TestRouterAuth(t *testing.T) {
	reg := jsonldb.NewRegistry()
	repo, err := users.New(reg, filepath.Join(t.TempDir(), "users.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create("ann", "secret"); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, func(c *Config) { c.Auth = repo })

	if code, _, _ := s.do("GET", "/api/health", ""); code != http.StatusOK {
		t.Errorf("health without credentials = %d, want 200", code)
	}
	code, resp, hdr := s.do("GET", "/api/tables", "")
	if code != http.StatusUnauthorized || resp.Error.Code != "UNAUTHORIZED" {
		t.Errorf("no credentials = %d %s", code, resp.Error.Code)
	}
	if hdr.Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
	s.user, s.pass = "ann", "wrong"
	if code, _, _ := s.do("GET", "/api/tables", ""); code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", code)
	}
	s.pass = "secret"
	if code, _, _ := s.do("GET", "/api/tables", ""); code != http.StatusOK {
		t.Errorf("valid credentials = %d, want 200", code)
	}
}

func TestRouterHidesCredentials(t *testing.T) {
	reg := jsonldb.NewRegistry()
	repo, err := users.New(reg, filepath.Join(t.TempDir(), "users.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create("alice", "secret"); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, func(c *Config) {
		c.Auth = repo
		c.Tables["users"] = repo.Table()
	})
	s.user, s.pass = "alice", "secret"

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{"GET", "/api/tables", ""},
		{"GET", "/api/tables/users/records", ""},
		{"GET", "/api/tables/users/records?field=username&value=alice", ""},
		{"POST", "/api/tables/users/records", `{"json":{"id":"x","username":"mallory","password_hash":"h"}}`},
		{"PATCH", "/api/tables/users/records/x", `{"json":{"password_hash":"h"}}`},
		{"DELETE", "/api/tables/users/records", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), tt.method, s.srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			req.SetBasicAuth(s.user, s.pass)
			resp, err := s.srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				t.Fatal(err)
			}
			if strings.Contains(string(body), "password_hash") || strings.Contains(string(body), "$2a$") {
				t.Errorf("credentials in response: %s", body)
			}
			if tt.path != "/api/tables" && resp.StatusCode != http.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.StatusCode)
			}
		})
	}
	list, err := repo.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("users table modified over HTTP: %v", list)
	}
	if _, err := repo.Authenticate("alice", "secret"); err != nil {
		t.Errorf("Authenticate failed: %v", err)
	}
	if code, resp, _ := s.do("GET", "/api/tables", ""); code != http.StatusOK || len(resp.Tables) != 1 || resp.Tables[0].Name != "notes" {
		t.Errorf("tables = %d %+v", code, resp.Tables)
	}
}

func TestRouterRateLimit(t *testing.T) {
	l := ratelimit.NewLimiter(2, time.Minute, 2)
	defer l.Close()
	s := newTestServer(t, func(c *Config) { c.Limiter = l })

	for i := range 2 {
		if code, _, _ := s.do("GET", "/api/health", ""); code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i+1, code)
		}
	}
	code, resp, hdr := s.do("GET", "/api/health", "")
	if code != http.StatusTooManyRequests || resp.Error.Code != "RATE_LIMITED" {
		t.Errorf("over limit = %d %s", code, resp.Error.Code)
	}
	if hdr.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"RemoteAddr with port", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"RemoteAddr without port", "192.0.2.1", nil, "192.0.2.1"},
		{"IPv6 RemoteAddr with port", "[2001:db8::1]:1234", nil, "2001:db8::1"},
		{"X-Forwarded-For", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"X-Real-IP", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.6"}, "203.0.113.6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
